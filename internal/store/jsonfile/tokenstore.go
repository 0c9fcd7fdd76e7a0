// Package jsonfile provides JSON file-backed persistence for the session token.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/sublet/internal/core/auth"
	"github.com/hay-kot/sublet/pkg/broadcast"
)

// TokenFile is the root JSON structure stored on disk.
type TokenFile struct {
	Entries map[string]Entry `json:"entries"`
}

// Entry is a single stored value with metadata.
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenStore implements auth.TokenStore using a JSON file for persistence.
// The file is the namespace; the token lives under auth.KeyAccessToken.
type TokenStore struct {
	path         string
	pollInterval time.Duration
	log          zerolog.Logger

	mu    sync.Mutex
	value *broadcast.Broadcaster[auth.NullToken]

	pollOnce sync.Once
	stopPoll context.CancelFunc
	pollDone chan struct{}
	closeMu  sync.Mutex
	closed   bool
}

// NewTokenStore creates a token store backed by the file at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{
		path:  path,
		log:   zerolog.Nop(),
		value: broadcast.New(auth.None()),
	}
}

// NamespacePath returns the store file for namespace inside dir.
func NamespacePath(dir, namespace string) string {
	return filepath.Join(dir, namespace+".json")
}

// WithPollInterval enables polling the file for changes made by other
// processes while there are observers. Zero disables polling.
func (s *TokenStore) WithPollInterval(d time.Duration) *TokenStore {
	s.pollInterval = d
	return s
}

// WithLogger sets the logger used for background polling.
func (s *TokenStore) WithLogger(l zerolog.Logger) *TokenStore {
	s.log = l
	return s
}

// Path returns the path of the backing file.
func (s *TokenStore) Path() string {
	return s.path
}

// lockPath returns the path to the lock file.
func (s *TokenStore) lockPath() string {
	return s.path + ".lock"
}

// withFileLock acquires a file lock, executes fn, then releases the lock.
func (s *TokenStore) withFileLock(lockType int, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := syscall.Flock(int(f.Fd()), lockType); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck

	return fn()
}

// Observe emits the stored token now and after every Save or Clear.
func (s *TokenStore) Observe(ctx context.Context) <-chan auth.NullToken {
	s.mu.Lock()
	if current, err := s.read(); err != nil {
		s.log.Warn().Err(err).Msg("token store unreadable, emitting last known value")
	} else {
		s.publishLocked(current)
	}
	ch := s.value.Subscribe(ctx)
	s.mu.Unlock()

	if s.pollInterval > 0 {
		s.pollOnce.Do(s.startPolling)
	}

	return ch
}

// Load returns the stored token.
func (s *TokenStore) Load(ctx context.Context) (auth.NullToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.read()
	if err != nil {
		return auth.None(), &auth.StoreError{Op: "load", Err: err}
	}
	return t, nil
}

// Save atomically replaces the stored token. The write is on disk when Save
// returns.
func (s *TokenStore) Save(ctx context.Context, token string) error {
	if token == "" {
		return &auth.StoreError{Op: "save", Err: auth.ErrEmptyToken}
	}

	return s.write(ctx, "save", func(file *TokenFile) auth.NullToken {
		now := time.Now()
		entry, exists := file.Entries[auth.KeyAccessToken]
		if exists {
			entry.Value = token
			entry.UpdatedAt = now
		} else {
			entry = Entry{
				Key:       auth.KeyAccessToken,
				Value:     token,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
		file.Entries[auth.KeyAccessToken] = entry
		return auth.Some(token)
	})
}

// Clear atomically removes the stored token.
func (s *TokenStore) Clear(ctx context.Context) error {
	return s.write(ctx, "clear", func(file *TokenFile) auth.NullToken {
		delete(file.Entries, auth.KeyAccessToken)
		return auth.None()
	})
}

// Close stops background polling and closes all observer channels.
func (s *TokenStore) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.stopPoll != nil {
		s.stopPoll()
		<-s.pollDone
	}
	s.value.Close()
	return nil
}

// write applies mutate under both locks, commits the file and then notifies
// observers while still holding the in-process lock so every observer sees
// the same order of values.
func (s *TokenStore) write(ctx context.Context, op string, mutate func(*TokenFile) auth.NullToken) error {
	if err := ctx.Err(); err != nil {
		return &auth.StoreError{Op: op, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var next auth.NullToken
	err := s.withFileLock(syscall.LOCK_EX, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		file, err := s.load()
		if err != nil {
			return err
		}

		next = mutate(&file)
		return s.save(file)
	})
	if err != nil {
		return &auth.StoreError{Op: op, Err: err}
	}

	s.value.Publish(next)
	return nil
}

// read loads the token under a shared file lock. Callers hold s.mu.
func (s *TokenStore) read() (auth.NullToken, error) {
	var t auth.NullToken
	err := s.withFileLock(syscall.LOCK_SH, func() error {
		file, err := s.load()
		if err != nil {
			return err
		}
		if entry, ok := file.Entries[auth.KeyAccessToken]; ok && entry.Value != "" {
			t = auth.Some(entry.Value)
		}
		return nil
	})
	return t, err
}

// publishLocked broadcasts t if it differs from the last broadcast value.
func (s *TokenStore) publishLocked(t auth.NullToken) {
	s.value.Update(func(current auth.NullToken) (auth.NullToken, bool) {
		return t, current != t
	})
}

func (s *TokenStore) startPolling() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopPoll = cancel
	s.pollDone = make(chan struct{})

	go s.poll(ctx)
}

// poll picks up changes written to the file by other processes.
func (s *TokenStore) poll(ctx context.Context) {
	defer close(s.pollDone)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.value.Len() == 0 {
				continue
			}

			s.mu.Lock()
			t, err := s.read()
			if err == nil {
				s.publishLocked(t)
			}
			s.mu.Unlock()

			if err != nil {
				s.log.Debug().Err(err).Str("path", s.path).Msg("poll token store")
			}
		}
	}
}

// load reads the token file from disk.
// Returns an empty TokenFile if the file doesn't exist.
func (s *TokenStore) load() (TokenFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TokenFile{Entries: make(map[string]Entry)}, nil
		}
		return TokenFile{}, fmt.Errorf("read token file: %w", err)
	}

	if len(data) == 0 {
		return TokenFile{Entries: make(map[string]Entry)}, nil
	}

	var file TokenFile
	if err := json.Unmarshal(data, &file); err != nil {
		return TokenFile{}, fmt.Errorf("parse %s: %w", s.path, err)
	}

	if file.Entries == nil {
		file.Entries = make(map[string]Entry)
	}

	return file, nil
}

// save writes the token file to disk atomically.
// Uses write-to-temp, fsync, then rename so readers never see a partial file.
func (s *TokenStore) save(file TokenFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := writeSync(tmp, data); err != nil {
		_ = os.Remove(tmp) // best effort cleanup
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp) // best effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	syncDir(dir)
	return nil
}

func writeSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// syncDir flushes the rename to disk. Not every platform supports syncing a
// directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
