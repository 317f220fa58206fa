package auth

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var ErrEmptyKey = errors.New("empty API key")

// KeyStore holds the accepted API keys. Keys come from a static value, a
// newline separated file and optionally an S3 object; Reload re-reads the
// file and S3 sources.
type KeyStore struct {
	static   string
	filePath string
	s3       *S3Source
	logger   *slog.Logger

	mu       sync.RWMutex
	fileKeys []string
	s3Keys   []string
}

// NewKeyStore creates a store. Either source may be empty.
func NewKeyStore(static, filePath string, logger *slog.Logger) *KeyStore {
	return &KeyStore{
		static:   strings.TrimSpace(static),
		filePath: filePath,
		logger:   logger,
	}
}

// WithS3 adds an S3 key list to the store.
func (k *KeyStore) WithS3(src *S3Source) *KeyStore {
	k.s3 = src
	return k
}

// Reload re-reads the key file and the S3 list. A failing source keeps its
// previous keys.
func (k *KeyStore) Reload(ctx context.Context) error {
	var errs []error

	fileKeys, err := readKeyFile(k.filePath)
	if err != nil {
		errs = append(errs, err)
	} else {
		k.mu.Lock()
		k.fileKeys = fileKeys
		k.mu.Unlock()
	}

	if k.s3 != nil {
		s3Keys, changed, err := k.s3.Fetch(ctx)
		switch {
		case err != nil:
			errs = append(errs, err)
		case changed:
			k.mu.Lock()
			k.s3Keys = s3Keys
			k.mu.Unlock()
		}
	}

	k.logger.Debug("API keys reloaded", "key_count", k.Len())
	return errors.Join(errs...)
}

// Watch reloads every interval until ctx is done. Changes to the key file
// are picked up as soon as they settle.
func (k *KeyStore) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	events, stop := k.watchFile()
	defer stop()

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.Reload(ctx); err != nil {
				k.logger.Warn("failed to reload API keys", "error", err)
			}
		case <-events:
			settle = time.After(keyFileDebounce)
		case <-settle:
			settle = nil
			k.reloadFile()
		}
	}
}

const keyFileDebounce = 250 * time.Millisecond

// watchFile watches the key file's directory, since Add replaces the file
// by rename. The returned channel never fires when watching is unavailable.
func (k *KeyStore) watchFile() (<-chan struct{}, func()) {
	changed := make(chan struct{}, 1)
	if k.filePath == "" {
		return changed, func() {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		k.logger.Warn("key file watching unavailable", "error", err)
		return changed, func() {}
	}
	dir := filepath.Dir(k.filePath)
	if err := watcher.Add(dir); err != nil {
		k.logger.Debug("key file directory not watchable, polling only", "dir", dir, "error", err)
		_ = watcher.Close()
		return changed, func() {}
	}

	name := filepath.Clean(k.filePath)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
					continue
				}
				select {
				case changed <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				k.logger.Warn("key file watcher error", "error", err)
			}
		}
	}()
	return changed, func() { _ = watcher.Close() }
}

func (k *KeyStore) reloadFile() {
	keys, err := readKeyFile(k.filePath)
	if err != nil {
		k.logger.Warn("failed to reload key file", "error", err)
		return
	}
	k.mu.Lock()
	k.fileKeys = keys
	k.mu.Unlock()
	k.logger.Info("key file changed", "key_count", k.Len())
}

// Enabled reports whether any key is configured.
func (k *KeyStore) Enabled() bool {
	return k.Len() > 0
}

// Len returns the number of distinct keys.
func (k *KeyStore) Len() int {
	return len(k.all())
}

// Valid reports whether key is accepted.
func (k *KeyStore) Valid(key string) bool {
	if key == "" {
		return false
	}
	found := 0
	for _, candidate := range k.all() {
		found |= subtle.ConstantTimeCompare([]byte(candidate), []byte(key))
	}
	return found == 1
}

// Add accepts key and appends it to the key file.
func (k *KeyStore) Add(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.Contains(k.fileKeys, key) {
		return nil
	}
	next := append(slices.Clone(k.fileKeys), key)
	if err := writeKeyFile(k.filePath, next); err != nil {
		return err
	}
	k.fileKeys = next
	k.logger.Info("API key added", "key_count", len(k.fileKeys))
	return nil
}

// Remove drops key from the key file. It reports whether the key was present.
// The static and S3 keys are not affected.
func (k *KeyStore) Remove(key string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	i := slices.Index(k.fileKeys, strings.TrimSpace(key))
	if i < 0 {
		return false, nil
	}
	next := slices.Delete(slices.Clone(k.fileKeys), i, i+1)
	if err := writeKeyFile(k.filePath, next); err != nil {
		return false, err
	}
	k.fileKeys = next
	k.logger.Info("API key removed", "key_count", len(k.fileKeys))
	return true, nil
}

func (k *KeyStore) all() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	keys := make([]string, 0, 1+len(k.fileKeys)+len(k.s3Keys))
	if k.static != "" {
		keys = append(keys, k.static)
	}
	keys = append(keys, k.fileKeys...)
	keys = append(keys, k.s3Keys...)
	slices.Sort(keys)
	return slices.Compact(keys)
}

// GenerateKey returns a new random key.
func GenerateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return "xck_" + hex.EncodeToString(buf), nil
}

// readKeyFile returns one key per non-empty line, skipping # comments. A
// missing file has no keys.
func readKeyFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var keys []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	return keys, scanner.Err()
}

func writeKeyFile(path string, keys []string) error {
	if path == "" {
		return errors.New("no key file configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	var buf bytes.Buffer
	for _, key := range keys {
		buf.WriteString(key)
		buf.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace key file: %w", err)
	}
	return nil
}
