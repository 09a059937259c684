package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/darkace1998/video-pipeline/internal/models"
)

// ErrUnknownEncoder is returned when an encoder name is not configured
var ErrUnknownEncoder = errors.New("unknown encoder")

// encoderState is the persisted form of the runtime enable flags
type encoderState struct {
	Enabled   map[string]bool `json:"enabled"`
	UpdatedAt time.Time       `json:"updated_at"`
	Version   int             `json:"version"`
}

// Registry holds the configured encoders with thread-safe access to their
// enabled flags. Order follows the config file.
type Registry struct {
	mu       sync.RWMutex
	encoders []models.Encoder
	version  int
	filePath string
}

// NewRegistry creates a registry from the configured encoders. When
// statePath is set, previously persisted enable flags override the config.
func NewRegistry(encoders []models.Encoder, statePath string) (*Registry, error) {
	r := &Registry{
		encoders: make([]models.Encoder, len(encoders)),
		filePath: statePath,
	}
	copy(r.encoders, encoders)

	if statePath == "" {
		return r, nil
	}

	state, err := r.loadFromFile()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return r, nil
	}

	r.version = state.Version
	for i := range r.encoders {
		if enabled, ok := state.Enabled[r.encoders[i].Name]; ok {
			r.encoders[i].Enabled = enabled
		}
	}
	return r, nil
}

// Enabled returns the ordered list of currently enabled encoders
func (r *Registry) Enabled() []models.Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Encoder, 0, len(r.encoders))
	for _, enc := range r.encoders {
		if enc.Enabled {
			out = append(out, enc)
		}
	}
	return out
}

// All returns a copy of every configured encoder
func (r *Registry) All() []models.Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Encoder, len(r.encoders))
	copy(out, r.encoders)
	return out
}

// SetEnabled flips an encoder's enabled flag and persists the new state
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i := range r.encoders {
		if r.encoders[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownEncoder, name)
	}

	prev := r.encoders[idx].Enabled
	r.encoders[idx].Enabled = enabled
	r.version++
	if err := r.saveToFile(); err != nil {
		r.encoders[idx].Enabled = prev
		r.version--
		return err
	}
	return nil
}

func (r *Registry) loadFromFile() (*encoderState, error) {
	// #nosec G304 - filePath is from config, not untrusted input
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoder state: %w", err)
	}

	var state encoderState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse encoder state: %w", err)
	}
	return &state, nil
}

// saveToFile writes the state atomically. Caller holds the write lock.
func (r *Registry) saveToFile() error {
	if r.filePath == "" {
		return nil
	}

	state := encoderState{
		Enabled:   make(map[string]bool, len(r.encoders)),
		UpdatedAt: time.Now(),
		Version:   r.version,
	}
	for _, enc := range r.encoders {
		state.Enabled[enc.Name] = enc.Enabled
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal encoder state: %w", err)
	}

	tempPath := r.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp encoder state: %w", err)
	}
	if err := os.Rename(tempPath, r.filePath); err != nil {
		return fmt.Errorf("failed to rename encoder state: %w", err)
	}
	return nil
}
