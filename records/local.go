package records

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"news-summariser/pkg/digest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LocalSubscribers keeps one JSON file per subscriber under a directory, for
// local development. Files are replaced by rename, so a failed write never
// leaves a partial record.
type LocalSubscribers struct {
	logger *slog.Logger
	dir    string
	mu     sync.Mutex // serialises every read-modify-write
}

// NewLocalSubscribers creates a store rooted at dir.
func NewLocalSubscribers(dir string, logger *slog.Logger) *LocalSubscribers {
	return &LocalSubscribers{dir: dir, logger: logger}
}

// fileName derives a stable, path-safe file name from an email.
func fileName(email string) string {
	sum := sha256.Sum256([]byte(email))
	return "sub-" + hex.EncodeToString(sum[:]) + ".json"
}

func (l *LocalSubscribers) path(email string) string {
	return filepath.Join(l.dir, fileName(email))
}

// Get implements Subscribers.
func (l *LocalSubscribers) Get(_ context.Context, email string) (*digest.Subscriber, bool, error) {
	sub, err := l.read(l.path(email))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (l *LocalSubscribers) read(p string) (*digest.Subscriber, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var sub digest.Subscriber
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", filepath.Base(p), err)
	}
	return &sub, nil
}

// ListByStatus implements Subscribers.
func (l *LocalSubscribers) ListByStatus(_ context.Context, status digest.Status) ([]*digest.Subscriber, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local storage directory: %w", err)
	}

	var subs []*digest.Subscriber
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "sub-") || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sub, err := l.read(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			l.logger.Warn("Failed to load subscriber", "file", entry.Name(), "error", err)
			continue
		}
		if matchesStatus(sub, status) {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Email < subs[j].Email })
	return subs, nil
}

// PutUnlessActive implements Subscribers.
func (l *LocalSubscribers) PutUnlessActive(_ context.Context, sub *digest.Subscriber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read(l.path(sub.Email))
	switch {
	case err == nil && existing.Status != digest.StatusInactive:
		return ErrExists
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err := l.write(sub); err != nil {
		return err
	}
	l.logger.Info("Subscriber saved to local storage", "email", sub.Email, "status", sub.Status)
	return nil
}

// SetStatus implements Subscribers. A missing record is created, matching
// the upsert behaviour of the DynamoDB store.
func (l *LocalSubscribers) SetStatus(_ context.Context, email string, status digest.Status, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub, err := l.read(l.path(email))
	if errors.Is(err, fs.ErrNotExist) {
		sub = &digest.Subscriber{Email: email}
	} else if err != nil {
		return err
	}

	at = at.UTC()
	sub.Status = status
	if status == digest.StatusInactive {
		sub.UnsubscribedAt = &at
	} else {
		sub.VerifiedAt = &at
	}

	return l.write(sub)
}

func (l *LocalSubscribers) write(sub *digest.Subscriber) error {
	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscriber: %w", err)
	}
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return replaceFile(l.dir, fileName(sub.Email), data)
}

// replaceFile writes data to a temporary file in dir and renames it over
// name. The temporary file is removed on any failure.
func replaceFile(dir, name string, data []byte) (err error) {
	f, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write subscriber file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close subscriber file: %w", err)
	}
	if err = os.Rename(f.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename subscriber file: %w", err)
	}
	return nil
}
