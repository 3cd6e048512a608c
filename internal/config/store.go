package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

var (
	// ErrInvalidKey is returned when a config key contains invalid characters.
	ErrInvalidKey = errors.New("invalid config key")

	// ErrUnknownKey is returned for a well-formed key that is not a setting.
	ErrUnknownKey = errors.New("unknown config key")

	// ErrNoConfigFile is returned when writing without a config file.
	ErrNoConfigFile = errors.New("no config file in use")
)

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}

// Store provides key-level access to configuration.
type Store interface {
	// Get returns a single config entry by key.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set updates a config entry and persists it.
	Set(ctx context.Context, key string, value any) error

	// GetAll returns all config entries.
	GetAll(ctx context.Context) (map[string]Entry, error)

	// GetByPrefix returns config entries matching the prefix.
	GetByPrefix(ctx context.Context, prefix string) (map[string]Entry, error)

	// Delete resets a config entry to its default.
	Delete(ctx context.Context, key string) error
}

// Entry represents a single configuration entry.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// FileStore implements Store on top of a Manager and its config file.
type FileStore struct {
	mgr *Manager
}

// NewStore creates a store that writes through to the manager's config file.
func NewStore(mgr *Manager) *FileStore {
	return &FileStore{mgr: mgr}
}

// Get returns a single config entry by key.
func (s *FileStore) Get(_ context.Context, key string) (*Entry, error) {
	def, err := lookupDefault(key)
	if err != nil {
		return nil, err
	}
	def.Value = s.mgr.value(key)
	return &def, nil
}

// Set updates a key, validates the result and writes the config file.
func (s *FileStore) Set(_ context.Context, key string, value any) error {
	if _, err := lookupDefault(key); err != nil {
		return err
	}
	return s.mgr.set(key, value)
}

// GetAll returns all config entries.
func (s *FileStore) GetAll(ctx context.Context) (map[string]Entry, error) {
	return s.GetByPrefix(ctx, "")
}

// GetByPrefix returns config entries matching the prefix.
func (s *FileStore) GetByPrefix(_ context.Context, prefix string) (map[string]Entry, error) {
	result := make(map[string]Entry)
	for _, e := range DefaultEntries() {
		if !strings.HasPrefix(e.Key, prefix) {
			continue
		}
		e.Value = s.mgr.value(e.Key)
		result[e.Key] = e
	}
	return result, nil
}

// Delete resets a key to its default and writes the config file.
func (s *FileStore) Delete(_ context.Context, key string) error {
	def, err := lookupDefault(key)
	if err != nil {
		return err
	}
	return s.mgr.set(key, def.Value)
}

// SortedKeys returns the keys of entries in order.
func SortedKeys(entries map[string]Entry) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lookupDefault(key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	for _, e := range DefaultEntries() {
		if e.Key == key {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

var _ Store = (*FileStore)(nil)
