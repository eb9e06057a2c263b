package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/quotecard/pkg/cache"
	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/hosting"
	"github.com/matzehuels/quotecard/pkg/processor"
	"github.com/matzehuels/quotecard/pkg/quotes"
	"github.com/matzehuels/quotecard/pkg/render"
	"github.com/matzehuels/quotecard/pkg/scale"
)

type stubGenerator struct {
	calls atomic.Int64
	err   error
	last  atomic.Value // render.Request
	delay time.Duration

	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func (g *stubGenerator) Generate(ctx context.Context, req render.Request) ([]byte, error) {
	g.calls.Add(1)
	g.last.Store(req)
	cur := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		prev := g.maxInflight.Load()
		if cur <= prev || g.maxInflight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return nil, g.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes(), nil
}

func newTestServer(t *testing.T, gen *stubGenerator, opts ...Option) *Server {
	t.Helper()
	proc := processor.New(gen, scale.NewScaler(hosting.Default()), cache.NewMemory(cache.MemoryOptions{}),
		processor.WithRetryDelay(time.Millisecond))
	t.Cleanup(proc.Dispose)

	src, err := quotes.NewMemorySource(quotes.Quote{
		Slug:    "pike",
		Content: "Clear is better than clever.",
		Author:  "Rob Pike",
	})
	if err != nil {
		t.Fatal(err)
	}
	s := New(proc, src, append([]Option{WithSiteName("quotes.example")}, opts...)...)
	t.Cleanup(s.Close)
	return s
}

// postTask creates a task and returns its id.
func postTask(t *testing.T, s *Server, body string) string {
	t.Helper()
	w := do(t, s, "POST", "/tasks", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /tasks = %d %s", w.Code, w.Body)
	}
	var task processor.Task
	if err := json.NewDecoder(w.Body).Decode(&task); err != nil {
		t.Fatal(err)
	}
	return task.ID
}

// waitTerminal polls GET /tasks/{id} until the task is completed or failed.
func waitTerminal(t *testing.T, s *Server, id string) processor.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var task processor.Task
		w := do(t, s, "GET", "/tasks/"+id, "")
		json.NewDecoder(w.Body).Decode(&task)
		if task.Status.Terminal() {
			return task
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s stuck in %s", id, task.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func do(t *testing.T, s *Server, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	w := do(t, newTestServer(t, &stubGenerator{}), "GET", "/healthz", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("GET /healthz = %d %s", w.Code, w.Body)
	}
}

func TestQuoteImage(t *testing.T) {
	gen := &stubGenerator{}
	s := newTestServer(t, gen)

	w := do(t, s, "GET", "/quotes/pike/image", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("X-Cache") != "MISS" {
		t.Error("first request should miss")
	}
	req := gen.last.Load().(render.Request)
	if req.Author != "Rob Pike" || req.SiteName != "quotes.example" {
		t.Errorf("render request = %+v", req)
	}

	etag := w.Header().Get("ETag")
	w = do(t, s, "GET", "/quotes/pike/image", "", "If-None-Match", etag)
	if w.Code != http.StatusNotModified || w.Header().Get("X-Cache") != "HIT" {
		t.Errorf("conditional request = %d, X-Cache %q", w.Code, w.Header().Get("X-Cache"))
	}

	w = do(t, s, "GET", "/quotes/pike/image?width=375&height=667&format=webp", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/webp" {
		t.Errorf("scaled request = %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if gen.calls.Load() != 1 {
		t.Errorf("rendered %d times, want 1", gen.calls.Load())
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name, method, target, body string
		gen                        *stubGenerator
		status                     int
		code                       errors.Code
		message                    string
	}{
		{"unknown quote", "GET", "/quotes/nobody/image", "", &stubGenerator{},
			http.StatusNotFound, errors.ErrCodeQuoteNotFound, `quote "nobody" not found`},
		{"bad format", "GET", "/quotes/pike/image?format=bmp", "", &stubGenerator{},
			http.StatusBadRequest, errors.ErrCodeInvalidFormat, ""},
		{"bad width", "GET", "/quotes/pike/image?width=wide", "", &stubGenerator{},
			http.StatusBadRequest, errors.ErrCodeInvalidInput, "width must be an integer"},
		{"bad json", "POST", "/render", "{", &stubGenerator{},
			http.StatusBadRequest, errors.ErrCodeInvalidInput, ""},
		{"unknown field", "POST", "/render", `{"content":"x","author":"y","colour":"red"}`, &stubGenerator{},
			http.StatusBadRequest, errors.ErrCodeInvalidInput, ""},
		{"empty author", "POST", "/render", `{"content":"x","author":" "}`, &stubGenerator{},
			http.StatusBadRequest, errors.ErrCodeInvalidInput, "author cannot be empty"},
		{"render failure", "POST", "/render", `{"content":"x","author":"y"}`,
			&stubGenerator{err: errors.Wrap(errors.ErrCodeRenderFailed, context.DeadlineExceeded, "draw at /srv/fonts")},
			http.StatusInternalServerError, errors.ErrCodeRenderFailed, errors.GenericFailureMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestServer(t, tt.gen), tt.method, tt.target, tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			body := decodeError(t, w)
			if body.Error != string(tt.code) {
				t.Errorf("error = %q, want %q", body.Error, tt.code)
			}
			if tt.message != "" && body.Message != tt.message {
				t.Errorf("message = %q, want %q", body.Message, tt.message)
			}
			if strings.Contains(body.Message, "/srv/fonts") {
				t.Error("internal detail leaked into the response")
			}
		})
	}
}

func TestRender(t *testing.T) {
	gen := &stubGenerator{}
	s := newTestServer(t, gen)

	w := do(t, s, "POST", "/render?quality=80",
		`{"content":"Make it work, make it right, make it fast.","author":"Kent Beck","width":1920,"height":1080,"format":"jpeg"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	cfg, format, err := image.DecodeConfig(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if format != "jpeg" || cfg.Width != 1920 || cfg.Height != 1080 {
		t.Errorf("output = %s %dx%d", format, cfg.Width, cfg.Height)
	}
	if req := gen.last.Load().(render.Request); req.SiteName != "quotes.example" {
		t.Errorf("site name default not applied: %+v", req)
	}
}

func TestTasks(t *testing.T) {
	s := newTestServer(t, &stubGenerator{})

	w := do(t, s, "POST", "/tasks", `{"content":"Talk is cheap.","author":"Linus Torvalds","priority":2}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /tasks = %d %s", w.Code, w.Body)
	}
	var task processor.Task
	if err := json.NewDecoder(w.Body).Decode(&task); err != nil {
		t.Fatal(err)
	}
	if task.ID == "" || w.Header().Get("Location") != "/tasks/"+task.ID {
		t.Fatalf("task = %+v, Location %q", task, w.Header().Get("Location"))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		w = do(t, s, "GET", "/tasks/"+task.ID, "")
		json.NewDecoder(w.Body).Decode(&task)
		if task.Status == processor.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task did not complete, status %s", task.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if task.Priority != 2 || task.Progress != 100 {
		t.Errorf("task = %+v", task)
	}

	w = do(t, s, "GET", "/tasks/"+task.ID+"/image", "")
	if w.Code != http.StatusOK || w.Header().Get("X-Cache") != "HIT" {
		t.Errorf("task image = %d, X-Cache %q", w.Code, w.Header().Get("X-Cache"))
	}

	w = do(t, s, "GET", "/tasks/missing", "")
	if w.Code != http.StatusNotFound || decodeError(t, w).Error != string(errors.ErrCodeTaskNotFound) {
		t.Errorf("missing task = %d", w.Code)
	}
}

func TestListQuotesAndStats(t *testing.T) {
	s := newTestServer(t, &stubGenerator{})

	w := do(t, s, "GET", "/quotes", "")
	var list []quotes.Quote
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil || len(list) != 1 || list[0].Slug != "pike" {
		t.Errorf("GET /quotes = %v, %v", list, err)
	}

	do(t, s, "GET", "/quotes/pike/image", "")
	w = do(t, s, "GET", "/stats", "")
	var st processor.Stats
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Cache.FlatEntries != 1 || st.MaxMemory == 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestListenAndServeShutdown(t *testing.T) {
	s := newTestServer(t, &stubGenerator{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, Config{Addr: "127.0.0.1:0"}) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() = %v, want nil after shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestTaskImageAfterCacheEviction(t *testing.T) {
	gen := &stubGenerator{}
	s := newTestServer(t, gen)

	id := postTask(t, s, `{"content":"Premature optimization is the root of all evil.","author":"Donald Knuth"}`)
	if task := waitTerminal(t, s, id); task.Status != processor.StatusCompleted {
		t.Fatalf("task = %+v", task)
	}

	s.proc.(*processor.Processor).Memory().Clear()
	gen.err = errors.New(errors.ErrCodeRenderFailed, "renderer gone")

	w := do(t, s, "GET", "/tasks/"+id+"/image", "")
	if w.Code != http.StatusOK {
		t.Fatalf("task image = %d %s", w.Code, w.Body)
	}
	if w.Header().Get("Content-Type") != "image/png" || w.Body.Len() == 0 {
		t.Errorf("task image = %q, %d bytes", w.Header().Get("Content-Type"), w.Body.Len())
	}
	if gen.calls.Load() != 1 {
		t.Errorf("rendered %d times, want 1", gen.calls.Load())
	}
}

func TestTaskConcurrencyBounded(t *testing.T) {
	gen := &stubGenerator{delay: 30 * time.Millisecond}
	s := newTestServer(t, gen, WithTaskConcurrency(2))

	var ids []string
	for i := range 6 {
		ids = append(ids, postTask(t, s, fmt.Sprintf(`{"content":"Quote %d","author":"Author"}`, i)))
	}
	for _, id := range ids {
		if task := waitTerminal(t, s, id); task.Status != processor.StatusCompleted {
			t.Errorf("task = %+v", task)
		}
	}
	if n := gen.maxInflight.Load(); n > 2 {
		t.Errorf("%d tasks rendered at once, want at most 2", n)
	}
}

func TestCloseStopsQueuedTasks(t *testing.T) {
	gen := &stubGenerator{delay: 100 * time.Millisecond}
	s := newTestServer(t, gen, WithTaskConcurrency(1))

	var ids []string
	for i := range 3 {
		ids = append(ids, postTask(t, s, fmt.Sprintf(`{"content":"Queued %d","author":"Author"}`, i)))
	}
	time.Sleep(20 * time.Millisecond)
	s.Close()

	failed := 0
	for _, id := range ids {
		task, ok := s.proc.Task(id)
		if !ok || !task.Status.Terminal() {
			t.Errorf("task %s = %+v after Close, want terminal", id, task)
		}
		if task.Status == processor.StatusFailed {
			failed++
		}
	}
	if failed < 2 {
		t.Errorf("%d tasks failed, want the queued ones to be cancelled", failed)
	}
	if gen.calls.Load() > 1 {
		t.Errorf("rendered %d times after Close, want only the running task", gen.calls.Load())
	}
}
