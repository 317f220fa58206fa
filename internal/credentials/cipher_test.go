package credentials

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewCipher(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr error
	}{
		{"valid 32-byte key", 32, nil},
		{"too short key", 16, ErrInvalidKey},
		{"too long key", 64, ErrInvalidKey},
		{"empty key", 0, ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCipher(make([]byte, tt.keyLen))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewCipher() error = %v, want %v", err, tt.wantErr)
			}
			if (c == nil) != (tt.wantErr != nil) {
				t.Errorf("NewCipher() cipher = %v", c)
			}
		})
	}
}

func TestCipher_SealOpen(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}

	plain := []byte(`{"cookies":[{"name":"auth_token","value":"x"}]}`)
	sealed, err := c.Seal(plain)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, []byte("auth_token")) {
		t.Error("sealed output contains plaintext")
	}

	again, _ := c.Seal(plain)
	if bytes.Equal(sealed, again) {
		t.Error("two seals of the same plaintext should differ (random nonce)")
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Errorf("Open() = %q, want %q", opened, plain)
	}

	t.Run("tampered", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[len(bad)/2] ^= 0x01
		if _, err := c.Open(bad); err == nil {
			t.Error("Open() of tampered data should fail")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other, _ := GenerateKey()
		oc, _ := NewCipher(other)
		if _, err := oc.Open(sealed); err == nil {
			t.Error("Open() with another key should fail")
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := c.Open([]byte("YWJj")); !errors.Is(err, ErrInvalidCipher) {
			t.Errorf("Open() error = %v, want ErrInvalidCipher", err)
		}
	})
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "encryption.key")

	first, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKey() error = %v", err)
	}
	second, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("second LoadOrCreateKey() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("existing key should be reused, not regenerated")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key mode = %o, want 600", perm)
	}

	if err := os.WriteFile(path, []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateKey(path); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("truncated key error = %v, want ErrInvalidKey", err)
	}
}

func TestDeriveKey(t *testing.T) {
	master, _ := GenerateKey()

	a, err := DeriveKey(master, "cookie-jar")
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	b, _ := DeriveKey(master, "cookie-jar")
	c, _ := DeriveKey(master, "other")

	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	if !bytes.Equal(a, b) {
		t.Error("derivation should be deterministic")
	}
	if bytes.Equal(a, c) {
		t.Error("different purposes should yield different keys")
	}
	if bytes.Equal(a, master) {
		t.Error("derived key should differ from master")
	}
}
