package store

import (
	"bytes"
	"fmt"
	"github.com/pkg/errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RemoteTimeout is the timeout of each request of the Remote store.
const RemoteTimeout = 10 * time.Second

// Remote stores checkpoints in the log server, with `POST /save_model/{name}` and `GET /load_model/{name}`.
type Remote struct {
	client  *http.Client
	baseURL string
}

var _ Store = (*Remote)(nil)

// NewRemote creates a Remote store for the server at baseURL.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		client:  &http.Client{Timeout: RemoteTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (r *Remote) url(endpoint string, key Key) string {
	return fmt.Sprintf("%s/%s/%s", r.baseURL, endpoint, url.PathEscape(key.Path()))
}

// Save implements Store.
func (r *Remote) Save(key Key, data []byte) error {
	target := r.url("save_model", key)
	resp, err := r.client.Post(target, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(err, "failed to save checkpoint %s", key)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("failed to save checkpoint %s: server returned %s", key, resp.Status)
	}
	return nil
}

// Load implements Store.
func (r *Remote) Load(key Key) ([]byte, error) {
	target := r.url("load_model", key)
	resp, err := r.client.Get(target)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load checkpoint %s", key)
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.Wrapf(ErrNotFound, "checkpoint %s in %s", key, r.baseURL)
	default:
		return nil, errors.Errorf("failed to load checkpoint %s: server returned %s", key, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read checkpoint %s", key)
	}
	return data, nil
}
