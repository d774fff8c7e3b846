package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fleetops/console-client/internal/logger"
)

const defaultCredsFile = "console_creds.json"

// FileStore persists credentials as a JSON file, with an in-memory mirror so
// repeated Get calls do not touch the filesystem.
type FileStore struct {
	mu     sync.Mutex
	path   string
	loaded bool
	creds  Credentials
}

// NewFileStore creates a file-backed store. An empty path resolves to
// ~/.fleetops/console_creds.json.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".fleetops", defaultCredsFile)
	}
	return &FileStore{path: path}, nil
}

// Get returns the current credentials, loading the file on first use. A
// record that cannot be parsed is treated as absent and purged.
func (f *FileStore) Get() Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loaded {
		return f.creds
	}
	f.loaded = true

	data, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Get().Warn().Err(err).Str("path", f.path).Msg("failed to read credentials file")
		}
		return Credentials{}
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		logger.Get().Warn().Err(err).Str("path", f.path).Msg("corrupted credentials file, purging")
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			logger.Get().Warn().Err(err).Msg("failed to purge corrupted credentials file")
		}
		return Credentials{}
	}

	f.creds = creds
	return f.creds
}

// Set updates the mirror and writes the file. A write failure is logged but
// does not fail the caller; the mirror stays authoritative for this process.
func (f *FileStore) Set(creds Credentials) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creds = creds
	f.loaded = true

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Get().Warn().Err(err).Str("dir", dir).Msg("failed to create credentials directory")
		return
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		logger.Get().Warn().Err(err).Msg("failed to marshal credentials")
		return
	}

	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		logger.Get().Warn().Err(err).Str("path", f.path).Msg("failed to write credentials file")
	}
}

// Clear removes the durable record and empties the mirror. Idempotent.
func (f *FileStore) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creds = Credentials{}
	f.loaded = true

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		logger.Get().Warn().Err(err).Str("path", f.path).Msg("failed to remove credentials file")
	}
}
