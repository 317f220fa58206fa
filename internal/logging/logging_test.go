package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")

	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}
}

func TestWithCaller(t *testing.T) {
	ctx := WithCaller(context.Background(), "api_key:abc")

	if got := GetCaller(ctx); got != "api_key:abc" {
		t.Errorf("GetCaller() = %q, want %q", got, "api_key:abc")
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}

	var nilCtx context.Context
	if got := GetRequestID(nilCtx); got != "" {
		t.Errorf("GetRequestID() on nil context = %q, want empty", got)
	}
}

func TestFromContext(t *testing.T) {
	logger := slog.Default()

	t.Run("nil context returns original logger", func(t *testing.T) {
		if FromContext(nil, logger) != logger {
			t.Error("FromContext(nil, logger) should return original logger")
		}
	})

	t.Run("context with requestID adds attribute", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-abc")
		if FromContext(ctx, logger) == logger {
			t.Error("FromContext with requestID should return a new logger")
		}
	})

	t.Run("caller alone does not change logger", func(t *testing.T) {
		ctx := WithCaller(context.Background(), "203.0.113.9")
		if FromContext(ctx, logger) != logger {
			t.Error("FromContext should not attach the caller")
		}
	})
}

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcd", "****"},
		{"abcde", "ab***de"},
		{"jack_the_checker", "ja***er"},
		{"フォロー中です", "フォ***です"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Mask(tt.in); got != tt.want {
				t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
		{"  debug  ", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSetDefault(t *testing.T) {
	logger := SetDefault()
	if logger == nil {
		t.Fatal("SetDefault() returned nil")
	}
	if slog.Default() != logger {
		t.Error("SetDefault() did not set the logger as default")
	}
}
