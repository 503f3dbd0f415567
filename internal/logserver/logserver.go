// Package logserver implements the HTTP server that collects scalar summaries posted by metrics.External,
// and stores agent checkpoints for store.Remote. Everything is kept in a LevelDB database.
//
// Routes:
//
//	POST /post_log/{logdir}    body: a metrics.ScalarEntry in JSON
//	GET  /logs/{logdir}        returns the list of entries posted, in order
//	POST /save_model/{name}    body: the checkpoint bytes
//	GET  /load_model/{name}    returns the checkpoint bytes, or 404
//
// Path parameters are URL path escaped, so they may contain "/".
package logserver

import (
	"encoding/json"
	"fmt"
	"github.com/gorilla/mux"
	"github.com/janpfeifer/activeGo/internal/metrics"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"io"
	"k8s.io/klog/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

const (
	logPrefix   = "log/"
	modelPrefix = "model/"

	// MaxBodySize accepted for posted checkpoints.
	MaxBodySize = 1 << 30
)

// Server handles the requests. It is safe for concurrent use.
type Server struct {
	db *leveldb.DB

	mu  sync.Mutex
	seq uint64 // Last sequence number used for log entries.
}

// Open (or create) the database in dir and returns a Server on it.
func Open(dir string) (*Server, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log server database in %q", dir)
	}
	return New(db)
}

// New creates a Server on an open database. Close closes the database.
func New(db *leveldb.DB) (*Server, error) {
	s := &Server{db: db}
	iter := db.NewIterator(util.BytesPrefix([]byte(logPrefix)), nil)
	for iter.Next() {
		key := string(iter.Key())
		seq, err := strconv.ParseUint(key[strings.LastIndex(key, "/")+1:], 10, 64)
		if err == nil {
			s.seq = max(s.seq, seq)
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to scan log entries")
	}
	return s, nil
}

// Close the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Handler returns the router with all the routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.UseEncodedPath()
	r.HandleFunc("/post_log/{logdir}", s.handlePostLog).Methods(http.MethodPost)
	r.HandleFunc("/logs/{logdir}", s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/save_model/{name:.+}", s.handleSaveModel).Methods(http.MethodPost)
	r.HandleFunc("/load_model/{name:.+}", s.handleLoadModel).Methods(http.MethodGet)
	return r
}

// pathVar returns the unescaped path variable.
func pathVar(r *http.Request, name string) (string, error) {
	value, err := url.PathUnescape(mux.Vars(r)[name])
	if err == nil && value == "" {
		err = errors.Errorf("empty %s", name)
	}
	return value, err
}

func logKeyPrefix(logDir string) []byte {
	return []byte(logPrefix + url.PathEscape(logDir) + "/")
}

func (s *Server) handlePostLog(w http.ResponseWriter, r *http.Request) {
	logDir, err := pathVar(r, "logdir")
	if err != nil {
		http.Error(w, fmt.Sprintf("bad log dir: %v", err), http.StatusBadRequest)
		return
	}
	var entry metrics.ScalarEntry
	if err = json.NewDecoder(r.Body).Decode(&entry); err != nil {
		http.Error(w, fmt.Sprintf("bad log entry: %v", err), http.StatusBadRequest)
		return
	}
	value, err := json.Marshal(entry)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.seq++
	key := fmt.Sprintf("%s%020d", logKeyPrefix(logDir), s.seq)
	err = s.db.Put([]byte(key), value, nil)
	s.mu.Unlock()
	if err != nil {
		klog.Warningf("failed to store log entry for %q: %v", logDir, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	klog.V(2).Infof("%s: %s=%g (step %d)", logDir, entry.Tag, entry.Value, entry.Step)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	logDir, err := pathVar(r, "logdir")
	if err != nil {
		http.Error(w, fmt.Sprintf("bad log dir: %v", err), http.StatusBadRequest)
		return
	}
	entries := []metrics.ScalarEntry{}
	iter := s.db.NewIterator(util.BytesPrefix(logKeyPrefix(logDir)), nil)
	for iter.Next() {
		var entry metrics.ScalarEntry
		if err = json.Unmarshal(iter.Value(), &entry); err != nil {
			break
		}
		entries = append(entries, entry)
	}
	iter.Release()
	if err == nil {
		err = iter.Error()
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read logs of %q: %v", logDir, err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleSaveModel(w http.ResponseWriter, r *http.Request) {
	name, err := pathVar(r, "name")
	if err != nil {
		http.Error(w, fmt.Sprintf("bad model name: %v", err), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read model: %v", err), http.StatusBadRequest)
		return
	}
	if err = s.db.Put([]byte(modelPrefix+name), data, nil); err != nil {
		klog.Warningf("failed to store model %q: %v", name, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	klog.V(1).Infof("saved model %q (%d bytes)", name, len(data))
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	name, err := pathVar(r, "name")
	if err != nil {
		http.Error(w, fmt.Sprintf("bad model name: %v", err), http.StatusBadRequest)
		return
	}
	data, err := s.db.Get([]byte(modelPrefix+name), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		http.Error(w, fmt.Sprintf("model %q not found", name), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
