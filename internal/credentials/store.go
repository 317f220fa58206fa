package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/xcheck/internal/models"
)

// JarLifetime is how long a saved cookie jar may be used.
const JarLifetime = 30 * 24 * time.Hour

// CookieJar is the persisted cookie set of the checking account.
type CookieJar struct {
	Cookies   []models.Cookie `json:"cookies"`
	SavedAt   time.Time       `json:"timestamp"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// JarStore reads and writes the encrypted cookie jar.
type JarStore struct {
	path   string
	cipher *Cipher
	logger *slog.Logger
}

// NewJarStore creates a JarStore for path.
func NewJarStore(path string, c *Cipher, logger *slog.Logger) *JarStore {
	return &JarStore{path: path, cipher: c, logger: logger}
}

// Save encrypts and writes cookies, replacing any previous jar.
func (s *JarStore) Save(cookies []models.Cookie, now time.Time) error {
	jar := CookieJar{Cookies: cookies, SavedAt: now.UTC(), ExpiresAt: now.UTC().Add(JarLifetime)}
	data, err := json.Marshal(jar)
	if err != nil {
		return fmt.Errorf("encoding cookie jar: %w", err)
	}
	sealed, err := s.cipher.Seal(data)
	if err != nil {
		return err
	}
	return writePrivate(s.path, sealed)
}

// Load returns the jar, or nil if it is missing, unreadable, or fails to
// decrypt or parse. Failures are logged, never returned.
func (s *JarStore) Load() *CookieJar {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("cookie jar not found", "path", s.path)
		} else {
			s.logger.Warn("failed to read cookie jar", "error", err)
		}
		return nil
	}
	plain, err := s.cipher.Open(data)
	if err != nil {
		s.logger.Warn("failed to decrypt cookie jar", "error", err)
		return nil
	}
	var jar CookieJar
	if err := json.Unmarshal(plain, &jar); err != nil {
		s.logger.Warn("failed to parse cookie jar", "error", err)
		return nil
	}
	return &jar
}

// ModTime returns the jar file's modification time.
func (s *JarStore) ModTime() (time.Time, bool) {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Remove deletes the jar. A missing file is not an error.
func (s *JarStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ValidityRecord marks when the stored session was last confirmed usable.
type ValidityRecord struct {
	LastValid       time.Time `json:"last_valid"`
	WindowSeconds   int64     `json:"window_seconds"`
	LastLoginMethod string    `json:"last_login_method"`
}

// Window returns the record's validity window.
func (r *ValidityRecord) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// ValidityStore reads and writes the validity sidecar.
type ValidityStore struct {
	path   string
	logger *slog.Logger
}

// NewValidityStore creates a ValidityStore for path.
func NewValidityStore(path string, logger *slog.Logger) *ValidityStore {
	return &ValidityStore{path: path, logger: logger}
}

// Load returns the record, or nil when absent or unreadable.
func (s *ValidityStore) Load() *ValidityRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var rec ValidityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("failed to parse session validity record", "error", err)
		return nil
	}
	return &rec
}

// Save writes rec.
func (s *ValidityStore) Save(rec ValidityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding validity record: %w", err)
	}
	return writePrivate(s.path, data)
}

// Remove deletes the record. A missing file is not an error.
func (s *ValidityStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// writePrivate atomically replaces path with data, owner read/write only.
func writePrivate(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
