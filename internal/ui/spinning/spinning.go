// Package spinning shows a spinner with a status message while a long computation (e.g. retraining)
// runs, and handles interruptions gracefully.
package spinning

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"io"
	"k8s.io/klog/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

var (
	ThemeASCII = []rune(`|/-\`)
	ThemeMoon  = []rune("🌑🌒🌓🌔🌕🌖🌗🌘")
	ThemeClock = []rune("🕐🕑🕒🕓🕔🕕🕖🕗🕘🕙🕚🕛")

	// Theme used by new spinners.
	Theme = ThemeASCII

	// Interval between frames.
	Interval = 250 * time.Millisecond

	// Output of spinners created without a writer.
	Output io.Writer = os.Stderr

	themes = map[string][]rune{
		"ascii": ThemeASCII,
		"moon":  ThemeMoon,
		"clock": ThemeClock,
	}
)

// SetTheme selects the Theme by name: "ascii", "moon" or "clock".
func SetTheme(name string) error {
	theme, found := themes[name]
	if !found {
		return errors.Errorf("unknown spinner theme %q", name)
	}
	Theme = theme
	return nil
}

// Spinner displays a spinning symbol followed by a message, until Done is called.
type Spinner struct {
	w       io.Writer
	theme   []rune
	cancel  func()
	wg      sync.WaitGroup
	mu      sync.Mutex
	message string
}

// SafeInterrupt will capture SigInt (Ctrl+C) and SigTerm and call the provided onInterrupt.
// If the program haven't exited after gracePeriod, it will call Reset to reset the terminal
// and exit.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		fmt.Println()
		klog.Errorf("Got interrupted (signal %q), shutting down... (%s)", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}
		time.Sleep(gracePeriod)
		Reset()
		klog.Fatalf("Graceful shutting down %s period expired, exiting.", gracePeriod)
	}()
}

// Reset terminal: make cursor visible, restore default terminal colors.
func Reset() {
	fmt.Print("\033[?25h\033[39;49;0m\n")
}

// New starts a spinner on w (Output if nil), running on its own goroutine, until ctx is done
// or Done is called.
func New(ctx context.Context, w io.Writer, message string) *Spinner {
	if w == nil {
		w = Output
	}
	s := &Spinner{w: w, theme: Theme, message: message}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	return s
}

func (s *Spinner) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	_, _ = fmt.Fprint(s.w, "\033[?25l")
	defer func() { _, _ = fmt.Fprint(s.w, "\r\033[0K\033[?25h") }()
	for frame := 0; ; frame++ {
		s.mu.Lock()
		_, _ = fmt.Fprintf(s.w, "\r%c %s\033[0K", s.theme[frame%len(s.theme)], s.message)
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SetMessage changes the message shown from the next frame on.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Done stops the spinner and clears its line. It can be called more than once.
func (s *Spinner) Done() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}

// Run calls fn while showing the spinner with message. The spinner is only shown if enabled, so
// callers can turn it off when the output is not a terminal.
func Run(ctx context.Context, enabled bool, message string, fn func() error) error {
	if !enabled {
		return fn()
	}
	s := New(ctx, nil, message)
	defer s.Done()
	return fn()
}
