package browsertest

import (
	"log/slog"
	"os"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Logger returns the quiet logger used by test sessions.
func Logger() *slog.Logger {
	return discardLogger()
}
