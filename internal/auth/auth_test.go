package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/golang-jwt/jwt/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTokenVerifier_IssueAndVerify(t *testing.T) {
	v := NewTokenVerifier("test-secret")
	token, err := v.Issue("billing-svc", "check", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "billing-svc" || claims.Scope != "check" || claims.Issuer != TokenIssuer {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Error("expected a token id")
	}
}

func TestTokenVerifier_Verify(t *testing.T) {
	v := NewTokenVerifier("test-secret")
	now := time.Now()

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	registered := func(issuer, subject string, exp time.Time) ServiceClaims {
		return ServiceClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
		}}
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "expired",
			token:   sign(jwt.SigningMethodHS256, []byte("test-secret"), registered(TokenIssuer, "svc", now.Add(-time.Minute))),
			wantErr: ErrTokenExpired,
		},
		{
			name:    "wrong secret",
			token:   sign(jwt.SigningMethodHS256, []byte("other"), registered(TokenIssuer, "svc", now.Add(time.Hour))),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "wrong issuer",
			token:   sign(jwt.SigningMethodHS256, []byte("test-secret"), registered("someone-else", "svc", now.Add(time.Hour))),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "HS512 rejected",
			token:   sign(jwt.SigningMethodHS512, []byte("test-secret"), registered(TokenIssuer, "svc", now.Add(time.Hour))),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "missing subject",
			token:   sign(jwt.SigningMethodHS256, []byte("test-secret"), registered(TokenIssuer, "", now.Add(time.Hour))),
			wantErr: ErrMissingClaims,
		},
		{
			name:    "garbage",
			token:   "not.a.token",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenVerifier_Disabled(t *testing.T) {
	v := NewTokenVerifier("")
	if v.Enabled() {
		t.Error("empty secret should disable tokens")
	}
	if _, err := v.Issue("svc", "", time.Hour); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Issue() error = %v, want ErrNoSecret", err)
	}
	if _, err := v.Verify("anything"); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Verify() error = %v, want ErrNoSecret", err)
	}
}

func TestGetClaimsFromContext(t *testing.T) {
	if GetClaimsFromContext(context.Background()) != nil {
		t.Error("expected nil claims on empty context")
	}
	claims := &ServiceClaims{Scope: "check"}
	if got := GetClaimsFromContext(WithClaims(context.Background(), claims)); got != claims {
		t.Errorf("GetClaimsFromContext() = %v", got)
	}
}

func TestKeyStore_Sources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_keys.txt")
	content := "# operators\nfile-key-1\n\n  file-key-2  \n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewKeyStore("static-key", path, testLogger())
	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	tests := []struct {
		key  string
		want bool
	}{
		{"static-key", true},
		{"file-key-1", true},
		{"file-key-2", true},
		{"# operators", false},
		{"", false},
		{"unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := store.Valid(tt.key); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
	if store.Len() != 3 {
		t.Errorf("Len() = %d, want 3", store.Len())
	}
}

func TestKeyStore_MissingFile(t *testing.T) {
	store := NewKeyStore("", filepath.Join(t.TempDir(), "absent.txt"), testLogger())
	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if store.Enabled() {
		t.Error("store without keys should not be enabled")
	}
}

func TestKeyStore_AddRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "api_keys.txt")
	store := NewKeyStore("static-key", path, testLogger())

	if err := store.Add("new-key"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := store.Add("new-key"); err != nil {
		t.Fatalf("Add() duplicate error = %v", err)
	}
	if err := store.Add("  "); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Add(blank) error = %v, want ErrEmptyKey", err)
	}
	if !store.Valid("new-key") {
		t.Error("added key should be valid")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %o, want 600", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	if string(data) != "new-key\n" {
		t.Errorf("key file = %q", data)
	}

	// A fresh store sees the persisted key.
	other := NewKeyStore("", path, testLogger())
	_ = other.Reload(context.Background())
	if !other.Valid("new-key") {
		t.Error("persisted key not loaded")
	}

	removed, err := store.Remove("new-key")
	if err != nil || !removed {
		t.Fatalf("Remove() = %v, %v", removed, err)
	}
	if store.Valid("new-key") {
		t.Error("removed key still valid")
	}
	removed, _ = store.Remove("static-key")
	if removed {
		t.Error("static key should not be removable")
	}
	if !store.Valid("static-key") {
		t.Error("static key should stay valid")
	}
}

func TestKeyStore_WatchPicksUpFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_keys.txt")
	if err := os.WriteFile(path, []byte("first-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := NewKeyStore("", path, testLogger())
	_ = store.Reload(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Watch(ctx, time.Hour)

	deadline := time.Now().Add(3 * time.Second)
	for !store.Valid("second-key") {
		if time.Now().After(deadline) {
			t.Fatal("key file change not picked up")
		}
		// Rewrite until the watcher, which starts asynchronously, has seen it.
		if err := os.WriteFile(path, []byte("first-key\nsecond-key\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !store.Valid("first-key") {
		t.Error("existing key lost on reload")
	}
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateKey()
	if a == b || !strings.HasPrefix(a, "xck_") || len(a) != 4+48 {
		t.Errorf("GenerateKey() = %q, %q", a, b)
	}
}

type notModifiedErr struct{}

func (notModifiedErr) Error() string     { return "not modified" }
func (notModifiedErr) ErrorCode() string { return "NotModified" }

type fakeS3 struct {
	calls    int
	lastTag  string
	body     string
	etag     string
	err      error
	missing  bool
	notMatch bool
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	f.lastTag = aws.ToString(in.IfNoneMatch)
	switch {
	case f.err != nil:
		return nil, f.err
	case f.missing:
		return nil, &types.NoSuchKey{}
	case f.lastTag != "" && f.lastTag == `"`+f.etag+`"`:
		return nil, notModifiedErr{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(f.body)),
		ETag: aws.String(`"` + f.etag + `"`),
	}, nil
}

func TestS3Source_Fetch(t *testing.T) {
	fake := &fakeS3{
		body: `{"api_keys":[{"key":"s3-key","enabled":true},{"key":"off-key","enabled":false}]}`,
		etag: "v1",
	}
	src := NewS3Source(fake, "bucket", "config/api_keys.json", testLogger())
	store := NewKeyStore("", "", testLogger()).WithS3(src)

	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if !store.Valid("s3-key") || store.Valid("off-key") {
		t.Error("only enabled S3 keys should be valid")
	}

	// Second fetch sends the ETag and keeps the keys on 304.
	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if fake.lastTag != `"v1"` {
		t.Errorf("If-None-Match = %q, want %q", fake.lastTag, `"v1"`)
	}
	if !store.Valid("s3-key") {
		t.Error("keys lost on unchanged object")
	}

	// A changed object replaces the list.
	fake.etag = "v2"
	fake.body = `{"api_keys":[{"key":"rotated","enabled":true}]}`
	_ = store.Reload(context.Background())
	if store.Valid("s3-key") || !store.Valid("rotated") {
		t.Error("rotated list not applied")
	}

	// A fetch failure keeps the previous keys.
	fake.err = errors.New("connection reset")
	if err := store.Reload(context.Background()); err == nil {
		t.Error("expected reload error")
	}
	if !store.Valid("rotated") {
		t.Error("keys lost on fetch failure")
	}

	// A deleted object empties the list.
	fake.err = nil
	fake.missing = true
	_ = store.Reload(context.Background())
	if store.Valid("rotated") {
		t.Error("deleted object should drop its keys")
	}
}

func TestS3Source_BadJSON(t *testing.T) {
	src := NewS3Source(&fakeS3{body: "{", etag: "x"}, "b", "k", testLogger())
	if _, _, err := src.Fetch(context.Background()); err == nil {
		t.Error("expected parse error")
	}
}
