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

// Package secretstore resolves the orchestrator's AES-256 master key from
// the OS keyring, falling back to an environment variable for headless or
// CI environments. Every keyring call is serialized through a single mutex.
package secretstore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	serviceName  = "agentrun"
	masterKeyKey = "runner-master-key"
	envVar       = "AGENTRUN_MASTER_KEY"
)

var (
	ErrBackendUnavailable = errors.New("system keyring unavailable")
	ErrSecretNotFound     = errors.New("master key not found in keyring or environment")
)

// MasterKeyStore resolves and persists the orchestrator's AES-256 master key.
type MasterKeyStore struct {
	mu        sync.Mutex
	available bool
}

// NewMasterKeyStore probes keyring availability without failing if absent.
func NewMasterKeyStore() *MasterKeyStore {
	s := &MasterKeyStore{available: true}
	_, err := keyring.Get(serviceName, "__availability_probe__")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		s.available = false
	}
	return s
}

// Get retrieves the master key, preferring the keyring over the environment.
func (s *MasterKeyStore) Get() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.available {
		encoded, err := keyring.Get(serviceName, masterKeyKey)
		if err == nil {
			return decodeKey(encoded)
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			s.available = false
		}
	}

	if encoded := os.Getenv(envVar); encoded != "" {
		return decodeKey(encoded)
	}

	return nil, ErrSecretNotFound
}

// GetOrCreate returns the existing master key, or generates and persists a
// new one if none exists yet.
func (s *MasterKeyStore) GetOrCreate(generate func() ([]byte, error)) ([]byte, error) {
	key, err := s.Get()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return nil, err
	}

	key, err = generate()
	if err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(key)
	if s.available {
		if err := keyring.Set(serviceName, masterKeyKey, encoded); err == nil {
			return key, nil
		}
		s.available = false
	}

	fmt.Fprintf(os.Stderr,
		"\nSystem keyring unavailable. To persist the encryption key, set:\n\n    export %s=%s\n\n"+
			"WARNING: store this value securely; encrypted artifacts cannot be recovered without it.\n\n",
		envVar, encoded)

	return key, nil
}

// Delete removes the master key from the keyring. Used only by tests and
// explicit key-rotation tooling.
func (s *MasterKeyStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return ErrBackendUnavailable
	}
	if err := keyring.Delete(serviceName, masterKeyKey); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("deleting master key: %w", err)
	}
	return nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid master key length: expected 32 bytes, got %d", len(key))
	}
	return key, nil
}
