package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// Spinner animates one status line, with the time elapsed since Start,
// until it is stopped or its context ends.
type Spinner struct {
	w       io.Writer
	message string
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	start   time.Time
	stopped chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	mu    sync.Mutex
	width int // printed width of the current line
}

// newSpinner creates a spinner writing to stderr.
func newSpinner(message string) *Spinner {
	return newSpinnerWithContext(context.Background(), message)
}

// newSpinnerWithContext creates a spinner that stops when ctx ends.
func newSpinnerWithContext(ctx context.Context, message string) *Spinner {
	inner, cancel := context.WithCancel(ctx)
	return &Spinner{
		w:       os.Stderr,
		message: message,
		parent:  ctx,
		ctx:     inner,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// Start begins the animation. Calls after the first are ignored.
func (s *Spinner) Start() {
	s.startOnce.Do(func() {
		s.start = time.Now()
		go s.loop()
	})
}

func (s *Spinner) loop() {
	defer close(s.stopped)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-s.ctx.Done():
			s.clear()
			return
		case <-ticker.C:
			s.draw(spinnerFrames[i%len(spinnerFrames)])
		}
	}
}

func (s *Spinner) draw(frame string) {
	elapsed := time.Since(s.start).Truncate(100 * time.Millisecond)
	line := styleIconSpinner.Render(frame) + " " + StyleDim.Render(s.message) + " " + StyleDim.Render(elapsed.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	pad := s.width - lipgloss.Width(line)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprint(s.w, "\r"+line+strings.Repeat(" ", pad))
	s.width = lipgloss.Width(line) + pad
}

func (s *Spinner) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.width == 0 {
		return
	}
	fmt.Fprint(s.w, "\r"+strings.Repeat(" ", s.width)+"\r")
	s.width = 0
}

// Stop halts the animation and clears the line. It may be called more
// than once, and before Start.
func (s *Spinner) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.stopped
		}
	})
}

// Cancelled reports whether the spinner's parent context ended, as opposed
// to a plain Stop.
func (s *Spinner) Cancelled() bool {
	return s.parent.Err() != nil
}
