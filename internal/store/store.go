// Package store persists agent checkpoints, keyed by agent name, episode and score.
//
// Two implementations: Local (files under a directory) and Remote (the save_model/load_model endpoints
// of the log server).
package store

import (
	"fmt"
	"github.com/pkg/errors"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotFound is returned (wrapped) when loading a key that was never saved.
var ErrNotFound = errors.New("checkpoint not found")

// Key identifies a checkpoint.
type Key struct {
	Agent   string
	Episode int
	Score   float64
}

// Path returns the relative path of the key: `<agent>/<episode:04d>/<score:.2f>`.
func (k Key) Path() string {
	return fmt.Sprintf("%s/%04d/%.2f", k.Agent, k.Episode, k.Score)
}

// String implements fmt.Stringer.
func (k Key) String() string { return k.Path() }

// ParseKey is the inverse of Key.Path.
func ParseKey(p string) (Key, error) {
	parts := strings.Split(strings.Trim(filepath.ToSlash(p), "/"), "/")
	if len(parts) < 3 {
		return Key{}, errors.Errorf("invalid checkpoint key %q: want <agent>/<episode>/<score>", p)
	}
	n := len(parts)
	episode, err := strconv.Atoi(parts[n-2])
	if err != nil {
		return Key{}, errors.Wrapf(err, "invalid episode in checkpoint key %q", p)
	}
	score, err := strconv.ParseFloat(parts[n-1], 64)
	if err != nil {
		return Key{}, errors.Wrapf(err, "invalid score in checkpoint key %q", p)
	}
	return Key{Agent: strings.Join(parts[:n-2], "/"), Episode: episode, Score: score}, nil
}

// Store saves and loads serialized checkpoints.
type Store interface {
	Save(key Key, data []byte) error
	Load(key Key) ([]byte, error)
}

// Local stores checkpoints as files under a base directory.
type Local struct {
	BaseDir string
}

var _ Store = (*Local)(nil)

// NewLocal returns a Local store under baseDir. A leading "~/" is expanded to the home directory.
func NewLocal(baseDir string) (*Local, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to find home directory")
		}
		baseDir = path.Join(home, baseDir[2:])
	}
	return &Local{BaseDir: baseDir}, nil
}

// FilePath returns where the key is (or would be) stored.
func (l *Local) FilePath(key Key) string {
	return filepath.Join(l.BaseDir, filepath.FromSlash(key.Path()))
}

// Save implements Store. Writes to a temporary file first and then renames it.
func (l *Local) Save(key Key, data []byte) error {
	filePath := l.FilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for checkpoint %s", key)
	}
	tmpPath := filePath + "~"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write checkpoint %s", key)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return errors.Wrapf(err, "failed to rename checkpoint %s into place", key)
	}
	return nil
}

// Load implements Store.
func (l *Local) Load(key Key) ([]byte, error) {
	data, err := os.ReadFile(l.FilePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "checkpoint %s in %s", key, l.BaseDir)
		}
		return nil, errors.Wrapf(err, "failed to read checkpoint %s", key)
	}
	return data, nil
}

// Latest returns the key of the latest episode saved for the agent. If there are more than one
// checkpoint for that episode, the one with the highest score is returned.
// It returns ErrNotFound if there are no checkpoints for the agent.
func (l *Local) Latest(agent string) (Key, error) {
	agentDir := filepath.Join(l.BaseDir, filepath.FromSlash(agent))
	var best Key
	found := false
	err := filepath.WalkDir(agentDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, "~") {
			return nil
		}
		rel, err := filepath.Rel(l.BaseDir, p)
		if err != nil {
			return err
		}
		key, err := ParseKey(rel)
		if err != nil {
			// Not a checkpoint: other files may live in the same directory.
			return nil
		}
		if !found || key.Episode > best.Episode || (key.Episode == best.Episode && key.Score > best.Score) {
			best, found = key, true
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return Key{}, errors.Wrapf(ErrNotFound, "no checkpoints for agent %q", agent)
		}
		return Key{}, errors.Wrapf(err, "failed to list checkpoints of agent %q", agent)
	}
	if !found {
		return Key{}, errors.Wrapf(ErrNotFound, "no checkpoints for agent %q", agent)
	}
	return best, nil
}
