package workerauth

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

const secretFileName = ".worker_auth_secret"

// loadOrCreateSecret reads the 256-bit HMAC secret from
// <configDir>/.worker_auth_secret, generating and persisting one with mode
// 0600 on first use.
func loadOrCreateSecret(configDir string) ([]byte, error) {
	path := filepath.Join(configDir, secretFileName)

	data, err := os.ReadFile(path)
	if err == nil && len(data) == 32 {
		return data, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("workerauth: read secret: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("workerauth: generate secret: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, secret, 0o600); err != nil {
		return nil, fmt.Errorf("workerauth: write secret: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("workerauth: persist secret: %w", err)
	}
	return secret, nil
}
