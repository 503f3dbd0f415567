package metrics

import (
	"encoding/json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []ScalarEntry
	err     error
	closed  bool
}

func (r *recordingSink) ScalarSummary(tag string, value float64, step int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, ScalarEntry{Tag: tag, Value: value, Step: step})
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestMulti(t *testing.T) {
	failing := &recordingSink{err: errors.Wrap(ErrSinkUnavailable, "down")}
	ok := &recordingSink{}
	m := Multi{failing, ok}
	err := m.ScalarSummary("acc", 0.5, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSinkUnavailable))
	assert.Equal(t, []ScalarEntry{{"acc", 0.5, 10}}, ok.entries)
	require.NoError(t, m.Close())
	assert.True(t, ok.closed)
}

func TestWithFallback(t *testing.T) {
	primary := &recordingSink{err: errors.Wrap(ErrSinkUnavailable, "down")}
	fallback := &recordingSink{}
	s := WithFallback(primary, fallback)
	require.NoError(t, s.ScalarSummary("loss", 1.5, 3))
	assert.Equal(t, []ScalarEntry{{"loss", 1.5, 3}}, fallback.entries)

	// Primary recovers.
	primary.err = nil
	require.NoError(t, s.ScalarSummary("loss", 1.0, 4))
	assert.Len(t, fallback.entries, 1)
	assert.Len(t, primary.entries, 1)
	require.NoError(t, s.Close())
}

func TestLocal(t *testing.T) {
	dir := t.TempDir()
	local, err := NewLocal(dir, map[string]any{"budget": 40})
	require.NoError(t, err)
	require.NoError(t, local.ScalarSummary("dev-acc", 55.5, 10))
	require.NoError(t, local.ScalarSummary("dev-acc", 60, 20))
	require.NoError(t, local.Close())
	assert.ErrorIs(t, local.ScalarSummary("dev-acc", 1, 1), ErrSinkUnavailable)

	// Re-opening appends without repeating the header.
	local, err = NewLocal(dir, nil)
	require.NoError(t, err)
	require.NoError(t, local.ScalarSummary("dev-loss", 0.25, 30))
	require.NoError(t, local.Close())

	rows, err := ReadLocal(dir)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "dev-acc", rows[0].Tag)
	assert.Equal(t, 20, rows[1].Step)
	assert.Equal(t, 60.0, rows[1].Value)
	assert.Equal(t, "dev-loss", rows[2].Tag)
	assert.Equal(t, 0.25, rows[2].Value)
}

func TestExternal(t *testing.T) {
	var got []ScalarEntry
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var entry ScalarEntry
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &entry); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got = append(got, entry)
	}))
	defer server.Close()

	e := NewExternal(server.URL+"/", "exp1")
	require.NoError(t, e.ScalarSummary("test-acc", 80, 100))
	assert.Equal(t, []string{"/post_log/exp1"}, paths)
	assert.Equal(t, []ScalarEntry{{"test-acc", 80, 100}}, got)
}

func TestExternalUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	e := NewExternal(server.URL, "exp1")
	err := e.ScalarSummary("test-acc", 80, 100)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	server.Close()
	err = e.ScalarSummary("test-acc", 80, 100)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
}

func TestDashboard(t *testing.T) {
	var paths []string
	var events []visdomEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var ev visdomEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		events = append(events, ev)
	}))
	defer server.Close()

	d := NewDashboard(server.URL, "main")
	require.NoError(t, d.ScalarSummary("acc", 1, 1))
	require.NoError(t, d.ScalarSummary("acc", 2, 2))
	require.NoError(t, d.ScalarSummary("loss", 3, 1))
	assert.Equal(t, []string{"/events", "/update", "/events"}, paths)
	assert.False(t, events[0].Append)
	assert.True(t, events[1].Append)
	assert.Equal(t, "main", events[1].Env)
	assert.Equal(t, []float64{2}, events[1].Data[0].Y)
}

func TestAverager(t *testing.T) {
	a := NewAverager()
	meanAcc, meanLoss := a.Add(0, 10, 50, 1)
	assert.Equal(t, 50.0, meanAcc)
	assert.Equal(t, 1.0, meanLoss)
	meanAcc, meanLoss = a.Add(0, 10, 70, 3)
	assert.Equal(t, 60.0, meanAcc)
	assert.Equal(t, 2.0, meanLoss)
	a.Add(1, 20, 80, 0.5)

	summary := a.Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, 0, summary[0].Round)
	assert.Equal(t, 2, summary[0].NumRuns)
	assert.InDelta(t, 14.142, summary[0].StdAcc, 1e-3)
	assert.Equal(t, 20, summary[1].NumLabeled)
	assert.Equal(t, 0.0, summary[1].StdAcc)
}

func TestNew(t *testing.T) {
	sink, err := New("none", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, NoOp{}, sink)

	dir := t.TempDir()
	sink, err = New("local", dir, "", map[string]int{"budget": 10})
	require.NoError(t, err)
	require.IsType(t, &Local{}, sink)
	require.NoError(t, sink.Close())

	sink, err = New("log, external", dir, "http://localhost:1", nil)
	require.NoError(t, err)
	require.IsType(t, Multi{}, sink)
	assert.Len(t, sink.(Multi), 2)

	_, err = New("dashboard", dir, "", nil)
	assert.Error(t, err)
	_, err = New("local", "", "", nil)
	assert.Error(t, err)
	_, err = New("tensorboard", dir, "", nil)
	assert.Error(t, err)
}
