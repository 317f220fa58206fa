package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/xcheck/internal/auth"
	"github.com/jmylchreest/xcheck/internal/config"
	"github.com/jmylchreest/xcheck/internal/credentials"
	"github.com/jmylchreest/xcheck/internal/logging"
	"github.com/jmylchreest/xcheck/internal/models"
)

// runImportCookies loads a browser cookie export and stores it as the
// encrypted jar. Both a bare array and {"cookies": [...]} are accepted.
func runImportCookies(cfg *config.Config, logger *slog.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cookie export: %w", err)
	}
	cookies, err := parseCookieExport(data)
	if err != nil {
		return err
	}

	manager, err := credentials.NewManager(cfg, logger)
	if err != nil {
		return err
	}
	if err := manager.ImportCookies(cookies); err != nil {
		return fmt.Errorf("import cookies: %w", err)
	}
	logger.Info("cookies imported", "count", len(cookies), "jar", cfg.CookieFilePath)
	return nil
}

func parseCookieExport(data []byte) ([]models.Cookie, error) {
	var cookies []models.Cookie
	if err := json.Unmarshal(data, &cookies); err == nil {
		return cookies, nil
	}
	var wrapped struct {
		Cookies []models.Cookie `json:"cookies"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse cookie export: %w", err)
	}
	return wrapped.Cookies, nil
}

func runIssueToken(cfg *config.Config, subject, scope string, ttl time.Duration) error {
	token, err := auth.NewTokenVerifier(cfg.JWTSecret).Issue(subject, scope, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runAddKey(cfg *config.Config, logger *slog.Logger) error {
	keys := auth.NewKeyStore("", cfg.APIKeysFile, logger)
	if err := keys.Reload(context.Background()); err != nil {
		return err
	}
	key, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	if err := keys.Add(key); err != nil {
		return err
	}
	logger.Info("API key added", "file", cfg.APIKeysFile, "key", logging.Mask(key))
	fmt.Println(key)
	return nil
}

func runRevokeKey(cfg *config.Config, logger *slog.Logger, key string) error {
	keys := auth.NewKeyStore("", cfg.APIKeysFile, logger)
	if err := keys.Reload(context.Background()); err != nil {
		return err
	}
	removed, err := keys.Remove(key)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("key not found in %s", cfg.APIKeysFile)
	}
	logger.Info("API key revoked", "file", cfg.APIKeysFile, "key", logging.Mask(key))
	return nil
}
