// Package apikey validates and mints frontend API keys.
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/darkace1998/video-pipeline/internal/logger"
	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
)

// ErrInvalidKey is returned for unknown or inactive keys
var ErrInvalidKey = errors.New("invalid api key")

const (
	keyBytes     = 24
	touchTimeout = 5 * time.Second
)

// Service checks keys against the record store and stamps their last use
// in the background
type Service struct {
	keys store.APIKeyStore
	log  *logger.ComponentLogger
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewService creates an API key service
func NewService(keys store.APIKeyStore) *Service {
	return &Service{
		keys: keys,
		log:  logger.NewComponentLogger("apikey"),
		now:  time.Now,
	}
}

// Validate returns the active key record. The lastUsed update runs
// asynchronously and its failure is only logged.
func (s *Service) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	k, err := s.keys.GetAPIKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	if !k.Active {
		return nil, ErrInvalidKey
	}

	usedAt := s.now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
		defer cancel()
		if err := s.keys.TouchAPIKey(tctx, key, usedAt); err != nil {
			s.log.WithContext(ctx).Warn("Failed to update api key last use", "app", k.AppName, "error", err)
		}
	}()

	return k, nil
}

// Mint creates a new active key for an app and owner
func (s *Service) Mint(ctx context.Context, appName, owner string) (*models.APIKey, error) {
	if appName == "" || owner == "" {
		return nil, errors.New("app_name and owner are required")
	}

	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	k := &models.APIKey{
		Key:       hex.EncodeToString(b),
		AppName:   appName,
		Owner:     owner,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.keys.CreateAPIKey(ctx, k); err != nil {
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}

	s.log.WithContext(ctx).Info("API key minted", "app", appName, "owner", owner)
	return k, nil
}

// Wait blocks until pending last-use updates finish
func (s *Service) Wait() {
	s.wg.Wait()
}
