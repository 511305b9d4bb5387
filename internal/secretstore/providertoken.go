// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package secretstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/fathomhq/agentrun/internal/model"
)

// ProviderTokenStore persists per-provider auth tokens (e.g. a codex or
// claude CLI login token) in the OS keyring, one keyring entry per provider.
// Unlike MasterKeyStore it has no environment-variable fallback: a missing
// keyring means tokens simply cannot be saved.
type ProviderTokenStore struct {
	mu sync.Mutex
}

// NewProviderTokenStore constructs a ProviderTokenStore.
func NewProviderTokenStore() *ProviderTokenStore {
	return &ProviderTokenStore{}
}

func tokenKey(provider model.Provider) string {
	return "provider-token-" + string(provider)
}

// Save persists token for provider, overwriting any existing value.
func (s *ProviderTokenStore) Save(provider model.Provider, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Set(serviceName, tokenKey(provider), token); err != nil {
		return fmt.Errorf("saving %s token: %w", provider, err)
	}
	return nil
}

// Has reports whether a token is currently stored for provider.
func (s *ProviderTokenStore) Has(provider model.Provider) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := keyring.Get(serviceName, tokenKey(provider))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("checking %s token: %w", provider, err)
}

// Get retrieves the stored token for provider.
func (s *ProviderTokenStore) Get(provider model.Provider) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := keyring.Get(serviceName, tokenKey(provider))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("reading %s token: %w", provider, err)
	}
	return token, nil
}

// Clear removes the stored token for provider, if any.
func (s *ProviderTokenStore) Clear(provider model.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Delete(serviceName, tokenKey(provider)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("clearing %s token: %w", provider, err)
	}
	return nil
}
