package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ErrKeyAlreadyPresent is returned when .env already carries an API_KEY line
// but the process saw an empty API_KEY, a misconfiguration the server must
// refuse rather than paper over with a second key.
var ErrKeyAlreadyPresent = errors.New("auth: .env already contains API_KEY, refusing to generate another")

// isLocalhost reports whether the bind host only accepts local connections.
func isLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// EnsureKey enforces the startup security policy: binding to a non-localhost
// host without a configured key generates one and persists it. The append
// uses a single O_WRONLY|O_CREAT|O_APPEND open so there is no stat-then-write
// window. If envPath already contains an API_KEY= line the server refuses to
// start.
func EnsureKey(configuredKey, bindHost, envPath string, logger *slog.Logger) (string, error) {
	if configuredKey != "" || isLocalhost(bindHost) {
		return configuredKey, nil
	}

	if data, err := os.ReadFile(envPath); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "API_KEY=") {
				return "", ErrKeyAlreadyPresent
			}
		}
	}

	key, err := GenerateKey()
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(envPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return "", fmt.Errorf("auth: open %s: %w", envPath, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "API_KEY=%s\n", key); err != nil {
		return "", fmt.Errorf("auth: persist generated key: %w", err)
	}

	logger.Warn("no API key configured for non-localhost bind; generated one",
		slog.String("bind_host", bindHost),
		slog.String("env_path", envPath),
	)
	// The operator needs the key once; slog would redact it.
	fmt.Fprintf(os.Stderr, "generated API key: %s\n", key)

	return key, nil
}
