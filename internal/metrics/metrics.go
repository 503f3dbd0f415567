// Package metrics implements the sinks where experiments report scalar summaries (accuracy, loss, rewards)
// and the averaging of metrics across repeated runs.
//
// Sinks are best effort: wrap them with WithFallback so that failures are logged and never interrupt training.
package metrics

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"path"
	"strings"
	"sync"
)

// ErrSinkUnavailable is returned (wrapped) by sinks that fail to deliver a summary.
var ErrSinkUnavailable = errors.New("metrics sink unavailable")

// Sink receives scalar summaries.
type Sink interface {
	ScalarSummary(tag string, value float64, step int) error
	Close() error
}

// NoOp sink discards everything.
type NoOp struct{}

var _ Sink = NoOp{}

// ScalarSummary implements Sink.
func (NoOp) ScalarSummary(string, float64, int) error { return nil }

// Close implements Sink.
func (NoOp) Close() error { return nil }

// Log sink writes summaries to klog, at the given verbosity level.
type Log struct {
	Level klog.Level
}

var _ Sink = Log{}

// ScalarSummary implements Sink.
func (l Log) ScalarSummary(tag string, value float64, step int) error {
	klog.V(l.Level).Infof("[metrics] %s=%.4f @ step %d", tag, value, step)
	return nil
}

// Close implements Sink.
func (Log) Close() error { return nil }

// Multi sends each summary to all its sinks. It returns the first error, but it always tries all sinks.
type Multi []Sink

var _ Sink = Multi{}

// ScalarSummary implements Sink.
func (m Multi) ScalarSummary(tag string, value float64, step int) error {
	var firstErr error
	for _, s := range m {
		if err := s.ScalarSummary(tag, value, step); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close implements Sink.
func (m Multi) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fallbackSink is returned by WithFallback.
type fallbackSink struct {
	primary, fallback Sink

	mu       sync.Mutex
	failures int
}

// WithFallback returns a Sink that never fails: summaries the primary sink fails to deliver are logged
// with a warning and sent to fallback instead (errors of the fallback are only logged).
// The returned sink is safe for concurrent use. A nil primary is a NoOp.
func WithFallback(primary, fallback Sink) Sink {
	if primary == nil {
		primary = NoOp{}
	}
	if fallback == nil {
		fallback = Log{Level: 1}
	}
	return &fallbackSink{primary: primary, fallback: fallback}
}

// ScalarSummary implements Sink.
func (s *fallbackSink) ScalarSummary(tag string, value float64, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.primary.ScalarSummary(tag, value, step)
	if err == nil {
		return nil
	}
	s.failures++
	if s.failures == 1 || s.failures%100 == 0 {
		klog.Warningf("metrics sink failed (%d failures so far), using fallback: %+v", s.failures, err)
	}
	if err = s.fallback.ScalarSummary(tag, value, step); err != nil {
		klog.Warningf("fallback metrics sink also failed: %v", err)
	}
	return nil
}

// Close implements Sink.
func (s *fallbackSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.primary.Close(); err != nil {
		klog.Warningf("failed to close metrics sink: %v", err)
	}
	if err := s.fallback.Close(); err != nil {
		klog.Warningf("failed to close fallback metrics sink: %v", err)
	}
	return nil
}

// New creates the sinks listed in kinds, a comma-separated list of "local", "external", "dashboard",
// "log" or "none". More than one sink are combined with Multi.
//
// logDir is the directory of the local sink, and also the log name for the external and dashboard sinks.
// serverURL is the address of the external (log server) or dashboard (Visdom) sink. config, if not nil,
// is saved by the local sink.
func New(kinds, logDir, serverURL string, config any) (Sink, error) {
	var sinks Multi
	for _, kind := range strings.Split(kinds, ",") {
		kind = strings.TrimSpace(kind)
		switch kind {
		case "", "none":
		case "log":
			sinks = append(sinks, Log{})
		case "local":
			if logDir == "" {
				return nil, errors.New("local metrics sink requires a log directory")
			}
			local, err := NewLocal(logDir, config)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, local)
		case "external", "dashboard":
			if serverURL == "" {
				return nil, errors.Errorf("%s metrics sink requires a server URL", kind)
			}
			name := "default"
			if logDir != "" {
				name = path.Base(path.Clean(logDir))
			}
			if kind == "external" {
				sinks = append(sinks, NewExternal(serverURL, name))
			} else {
				sinks = append(sinks, NewDashboard(serverURL, name))
			}
		default:
			return nil, errors.Errorf("unknown metrics sink %q", kind)
		}
	}
	switch len(sinks) {
	case 0:
		return NoOp{}, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}
