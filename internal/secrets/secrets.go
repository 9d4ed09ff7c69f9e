// Package secrets resolves credentials that may be given literally, through
// environment variable references or as mounted secret files (Docker and
// Kubernetes secrets). Secret values are never logged.
package secrets

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hearbird/hearbird/internal/logger"
)

// maxFileSize bounds secret file reads. Key lists are small.
const maxFileSize = 64 * 1024

// GetLogger returns the secrets package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("secrets")
}

// Expand resolves ${VAR} and ${VAR:-fallback} references in s. A reference
// to an unset or empty variable without a fallback is an error.
func Expand(s string) (string, error) {
	if s == "" || !strings.Contains(s, "$") {
		return s, nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// ReadFile reads a single secret from path. Trailing line breaks are
// removed; an empty file is an error.
func ReadFile(path string) (string, error) {
	data, err := readSecretFile(path)
	if err != nil {
		return "", err
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret file is empty: %s", path)
	}
	return secret, nil
}

// ReadLines reads one secret per line from path. Blank lines and lines
// starting with # are skipped.
func ReadLines(path string) ([]string, error) {
	data, err := readSecretFile(path)
	if err != nil {
		return nil, err
	}

	var out []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	return out, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		secret, err := ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file: %w", err)
		}
		return secret, nil
	}
	return Expand(value)
}

func readSecretFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("secret file path is empty")
	}
	path = filepath.Clean(path)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("secret file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open secret file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat secret file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("secret path is not a regular file: %s", path)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("secret file too large (max %d bytes): %s", maxFileSize, path)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		GetLogger().Warn("Secret file is readable by group or others",
			logger.String("path", path),
			logger.String("mode", fmt.Sprintf("%04o", perm)))
	}

	data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	return data, nil
}
