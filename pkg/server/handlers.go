package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/quotecard/pkg/buildinfo"
	"github.com/matzehuels/quotecard/pkg/cache"
	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/processor"
)

// ===== Health & stats =====

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"build":  buildinfo.Get(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proc.Stats())
}

// ===== Images =====

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	if s.quotes == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.quotes.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleQuoteImage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if s.quotes == nil {
		s.writeError(w, r, errors.New(errors.ErrCodeQuoteNotFound, "no quote source configured"))
		return
	}
	q, err := s.quotes.Get(r.Context(), slug)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	opts := processor.ImageOptions{
		Content:       q.Content,
		Author:        q.Author,
		SiteName:      s.siteName,
		BackgroundURL: q.BackgroundURL,
	}
	if err := outputParams(r, &opts); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveImage(w, r, opts)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.decodeOptions(w, r)
	if !ok {
		return
	}
	s.serveImage(w, r, opts)
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, opts processor.ImageOptions) {
	blob, err := s.proc.ProcessImage(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBlob(w, r, blob)
}

func (s *Server) writeBlob(w http.ResponseWriter, r *http.Request, blob *processor.Blob) {
	etag := `"` + cache.ShortHash(blob.Data) + `"`
	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Cache-Control", s.cacheControl)
	if blob.Cached {
		h.Set("X-Cache", "HIT")
	} else {
		h.Set("X-Cache", "MISS")
	}
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", blob.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(blob.Data)
}

// ===== Tasks =====

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.decodeOptions(w, r)
	if !ok {
		return
	}
	task := s.proc.Enqueue(opts, opts.Priority)
	s.runTask(task)

	w.Header().Set("Location", "/tasks/"+task.ID)
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.proc.Task(chi.URLParam(r, "id"))
	if !ok {
		writeTaskNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskImage(w http.ResponseWriter, r *http.Request) {
	task, ok := s.proc.Task(chi.URLParam(r, "id"))
	if !ok {
		writeTaskNotFound(w)
		return
	}
	if task.Status != processor.StatusCompleted {
		writeJSON(w, http.StatusConflict, errorBody{
			Error:   "TASK_" + string(task.Status),
			Message: "task is " + string(task.Status),
		})
		return
	}
	blob, ok := s.proc.TaskResult(task.ID)
	if !ok {
		writeTaskNotFound(w)
		return
	}
	s.writeBlob(w, r, blob)
}

// ===== Helpers =====

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) decodeOptions(w http.ResponseWriter, r *http.Request) (processor.ImageOptions, bool) {
	var opts processor.ImageOptions
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid JSON body"))
		return opts, false
	}
	if opts.SiteName == "" {
		opts.SiteName = s.siteName
	}
	if err := outputParams(r, &opts); err != nil {
		s.writeError(w, r, err)
		return opts, false
	}
	return opts, true
}

// outputParams overlays query parameters onto opts.
func outputParams(r *http.Request, opts *processor.ImageOptions) error {
	var err error
	set := func(dst *int, name string) {
		if err != nil {
			return
		}
		var v int
		if v, err = intParam(r, name); err == nil && r.URL.Query().Has(name) {
			*dst = v
		}
	}
	set(&opts.Width, "width")
	set(&opts.Height, "height")
	set(&opts.Quality, "quality")
	if err != nil {
		return err
	}

	q := r.URL.Query()
	if v := q.Get("format"); v != "" {
		opts.Format = v
	}
	if v := q.Get("pixel_ratio"); v != "" {
		pr, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return errors.New(errors.ErrCodeInvalidInput, "pixel_ratio must be a number")
		}
		opts.PixelRatio = pr
	}
	if v := q.Get("preserve_text"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return errors.New(errors.ErrCodeInvalidInput, "preserve_text must be a boolean")
		}
		opts.PreserveText = &b
	}
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(errors.ErrCodeInvalidInput, "%s must be an integer", name)
	}
	return n, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("Rejected request", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: string(code), Message: errors.UserMessage(err)})
}

func writeTaskNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorBody{
		Error:   string(errors.ErrCodeTaskNotFound),
		Message: "task not found",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
