package store

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestKey(t *testing.T) {
	key := Key{Agent: "dqn", Episode: 7, Score: 0.12345}
	assert.Equal(t, "dqn/0007/0.12", key.Path())
	parsed, err := ParseKey(key.Path())
	require.NoError(t, err)
	assert.Equal(t, Key{Agent: "dqn", Episode: 7, Score: 0.12}, parsed)

	_, err = ParseKey("dqn/seven/0.1")
	assert.Error(t, err)
	_, err = ParseKey("dqn")
	assert.Error(t, err)
}

func TestLocal(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = l.Load(Key{Agent: "policy", Episode: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Latest("policy")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, l.Save(Key{"policy", 1, 0.5}, []byte("one")))
	require.NoError(t, l.Save(Key{"policy", 3, 0.1}, []byte("three-low")))
	require.NoError(t, l.Save(Key{"policy", 3, 0.9}, []byte("three-high")))
	require.NoError(t, l.Save(Key{"policy", 2, 0.7}, []byte("two")))

	data, err := l.Load(Key{"policy", 1, 0.5})
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	latest, err := l.Latest("policy")
	require.NoError(t, err)
	assert.Equal(t, Key{"policy", 3, 0.9}, latest)
}

func TestRemote(t *testing.T) {
	var mu sync.Mutex
	saved := make(map[string][]byte)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/save_model/"):
			data, _ := io.ReadAll(r.Body)
			saved[strings.TrimPrefix(r.URL.Path, "/save_model/")] = data
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/load_model/"):
			data, found := saved[strings.TrimPrefix(r.URL.Path, "/load_model/")]
			if !found {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
		default:
			http.Error(w, "bad request", http.StatusBadRequest)
		}
	}))
	defer server.Close()

	rs := NewRemote(server.URL)
	key := Key{"random", 2, 1.5}
	_, err := rs.Load(key)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, rs.Save(key, []byte{1, 2, 3}))
	data, err := rs.Load(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}
