package logserver

import (
	"encoding/json"
	"github.com/janpfeifer/activeGo/internal/metrics"
	"github.com/janpfeifer/activeGo/internal/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func getLogs(t *testing.T, baseURL, logDir string) []metrics.ScalarEntry {
	resp, err := http.Get(baseURL + "/logs/" + url.PathEscape(logDir))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []metrics.ScalarEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	return entries
}

func TestServer(t *testing.T) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	// Logs.
	sink := metrics.NewExternal(srv.URL, "exp/run-1")
	require.NoError(t, sink.ScalarSummary("dev-acc", 55.5, 10))
	require.NoError(t, sink.ScalarSummary("dev-acc", 60, 20))
	require.NoError(t, metrics.NewExternal(srv.URL, "exp").ScalarSummary("dev-loss", 1.5, 10))

	entries := getLogs(t, srv.URL, "exp/run-1")
	assert.Equal(t, []metrics.ScalarEntry{{Tag: "dev-acc", Value: 55.5, Step: 10}, {Tag: "dev-acc", Value: 60, Step: 20}}, entries)
	assert.Len(t, getLogs(t, srv.URL, "exp"), 1)
	assert.Empty(t, getLogs(t, srv.URL, "other"))

	resp, err := http.Post(srv.URL+"/post_log/exp", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Models.
	remote := store.NewRemote(srv.URL)
	key := store.Key{Agent: "dqn", Episode: 3, Score: 0.75}
	require.NoError(t, remote.Save(key, []byte("weights")))
	data, err := remote.Load(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), data)
	_, err = remote.Load(store.Key{Agent: "dqn", Episode: 4})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// Sequence numbers continue after reopening.
	s2, err := New(db)
	require.NoError(t, err)
	assert.Equal(t, s.seq, s2.seq)
	assert.Equal(t, uint64(3), s2.seq)
}
