package metrics

import (
	"encoding/json"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"os"
	"path"
	"sync"
	"time"
)

// ScalarsFileName is the CSV file, inside the log directory, where Local writes the summaries.
const ScalarsFileName = "scalars.csv"

// Scalar is one summary, as stored by Local.
type Scalar struct {
	Time  string  `csv:"time"`
	Tag   string  `csv:"tag"`
	Step  int     `csv:"step"`
	Value float64 `csv:"value"`
}

// Local sink appends summaries to a CSV file in a log directory.
type Local struct {
	mu          sync.Mutex
	dir         string
	file        *os.File
	wroteHeader bool
}

var _ Sink = (*Local)(nil)

// NewLocal creates the log directory if needed, writes the experiment configuration (if not nil) to
// parameters.json, and opens (for appending) the CSV file with the summaries.
func NewLocal(dir string, config any) (*Local, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory %s", dir)
	}
	if config != nil {
		data, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to serialize experiment parameters")
		}
		if err = os.WriteFile(path.Join(dir, "parameters.json"), data, 0644); err != nil {
			return nil, errors.Wrapf(err, "failed to write parameters to %s", dir)
		}
	}
	filePath := path.Join(dir, ScalarsFileName)
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", filePath)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to stat %s", filePath)
	}
	return &Local{dir: dir, file: f, wroteHeader: info.Size() > 0}, nil
}

// ScalarSummary implements Sink.
func (l *Local) ScalarSummary(tag string, value float64, step int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.Wrapf(ErrSinkUnavailable, "local sink %s already closed", l.dir)
	}
	rows := []*Scalar{{Time: time.Now().Format(time.RFC3339), Tag: tag, Step: step, Value: value}}
	var err error
	if l.wroteHeader {
		err = gocsv.MarshalWithoutHeaders(&rows, l.file)
	} else {
		err = gocsv.MarshalFile(&rows, l.file)
		l.wroteHeader = err == nil
	}
	if err != nil {
		return errors.Wrapf(ErrSinkUnavailable, "writing to %s: %v", l.dir, err)
	}
	return nil
}

// Close implements Sink.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return errors.Wrapf(err, "closing local sink %s", l.dir)
}

// ReadLocal reads back the summaries written by Local in dir.
func ReadLocal(dir string) ([]*Scalar, error) {
	filePath := path.Join(dir, ScalarsFileName)
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", filePath)
	}
	defer func() { _ = f.Close() }()
	var rows []*Scalar
	if err = gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", filePath)
	}
	return rows, nil
}
