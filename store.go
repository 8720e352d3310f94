package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// Credentials is the token pair issued by the provider. Either field may be
// empty: a fresh install has neither, and the access token is replaced on
// every refresh.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// configDocument is the on-disk JSON layout. Tokens and connection settings
// share one file, rewritten wholesale on every successful token exchange.
type configDocument struct {
	AccessToken   string `json:"accessToken,omitempty"`
	RefreshToken  string `json:"refreshToken,omitempty"`
	Port          string `json:"port"`
	ClientID      string `json:"clientId"`
	OAuthCallback string `json:"oauthCallback"`
}

// loadConfigFile reads the config file at path. A missing or unparseable file
// is not an error — first run has no file — so both return values are simply
// zero in that case.
func loadConfigFile(path string) (Credentials, configDocument) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, configDocument{}
	}

	var doc configDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Credentials{}, configDocument{}
	}

	return Credentials{
		AccessToken:  doc.AccessToken,
		RefreshToken: doc.RefreshToken,
	}, doc
}

// saveConfigFile writes the merged config (tokens plus connection settings)
// to path. The write goes to a uniquely named temp file first and is renamed
// into place, so a crash mid-write never corrupts a previously valid file.
// A lock file coordinates concurrent invocations of the CLI.
func saveConfigFile(path string, creds Credentials, cfg ClientConfig) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	lock, err := acquireFileLock(path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	doc := configDocument{
		AccessToken:   creds.AccessToken,
		RefreshToken:  creds.RefreshToken,
		Port:          strconv.Itoa(cfg.Port),
		ClientID:      cfg.ClientID,
		OAuthCallback: cfg.OAuthCallback,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tempFile := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
