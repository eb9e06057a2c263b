package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// Spinner animates a status line on stderr until stopped or until its
// context is cancelled.
type Spinner struct {
	w       io.Writer
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	once    sync.Once
	exited  chan struct{}

	mu      sync.Mutex
	message string
	widest  int
}

func newSpinner(message string) *Spinner {
	return newSpinnerWithContext(context.Background(), message)
}

// newSpinnerWithContext creates a spinner bound to ctx.
func newSpinnerWithContext(ctx context.Context, message string) *Spinner {
	inner, cancel := context.WithCancel(ctx)
	return &Spinner{
		w:       os.Stderr,
		parent:  ctx,
		ctx:     inner,
		cancel:  cancel,
		exited:  make(chan struct{}),
		message: message,
		widest:  len(message),
	}
}

// Start begins the animation.
func (s *Spinner) Start() {
	if s.started.CompareAndSwap(false, true) {
		go s.run()
	}
}

func (s *Spinner) run() {
	defer close(s.exited)
	t := time.NewTicker(spinnerInterval)
	defer t.Stop()

	for i := 0; ; i++ {
		select {
		case <-s.ctx.Done():
			s.clear()
			return
		case <-t.C:
			s.mu.Lock()
			fmt.Fprintf(s.w, "\r%s %s", styleSpinner.Render(spinnerFrames[i%len(spinnerFrames)]),
				StyleDim.Render(pad(s.message, s.widest)))
			s.mu.Unlock()
		}
	}
}

// Stop ends the animation and clears the line. It may be called more than
// once, and without Start.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		s.cancel()
		if s.started.Load() {
			<-s.exited
		}
	})
}

// StopWithSuccess stops the spinner and prints a success line.
func (s *Spinner) StopWithSuccess(message string) {
	s.Stop()
	printSuccess("%s", message)
}

// StopWithError stops the spinner and prints an error line.
func (s *Spinner) StopWithError(message string) {
	s.Stop()
	printError("%s", message)
}

// Cancelled reports whether the parent context ended the spinner.
func (s *Spinner) Cancelled() bool {
	return s.parent.Err() != nil
}

// Update replaces the message. The line keeps the width of the longest
// message so shorter updates overwrite it fully.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
	s.widest = max(s.widest, len(message))
}

func (s *Spinner) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

func (s *Spinner) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", s.widest+4))
}

func pad(msg string, width int) string {
	if len(msg) >= width {
		return msg
	}
	return msg + strings.Repeat(" ", width-len(msg))
}
