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
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// useMockKeyring swaps in go-keyring's in-memory backend so these tests
// never touch a real OS keyring.
func useMockKeyring(t *testing.T) {
	t.Helper()
	keyring.MockInit()
}

func testKey() []byte {
	return bytes32('k')
}

func bytes32(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestMasterKeyStoreGetOrCreatePersistsToKeyring(t *testing.T) {
	useMockKeyring(t)
	s := NewMasterKeyStore()

	generated := false
	key, err := s.GetOrCreate(func() ([]byte, error) {
		generated = true
		return testKey(), nil
	})
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Equal(t, testKey(), key)

	again, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, testKey(), again)
}

func TestMasterKeyStoreGetOrCreateReusesExisting(t *testing.T) {
	useMockKeyring(t)
	s := NewMasterKeyStore()

	first, err := s.GetOrCreate(func() ([]byte, error) { return testKey(), nil })
	require.NoError(t, err)

	calls := 0
	second, err := s.GetOrCreate(func() ([]byte, error) {
		calls++
		return bytes32('z'), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, first, second)
}

func TestMasterKeyStoreGetNotFound(t *testing.T) {
	useMockKeyring(t)
	s := NewMasterKeyStore()

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestMasterKeyStoreGetFallsBackToEnv(t *testing.T) {
	useMockKeyring(t)
	s := NewMasterKeyStore()

	t.Setenv(envVar, base64.StdEncoding.EncodeToString(testKey()))

	key, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)
}

func TestDecodeKeyRejectsWrongLength(t *testing.T) {
	_, err := decodeKey(base64.StdEncoding.EncodeToString([]byte("too-short")))
	assert.Error(t, err)
}

func TestMasterKeyStoreDelete(t *testing.T) {
	useMockKeyring(t)
	s := NewMasterKeyStore()

	_, err := s.GetOrCreate(func() ([]byte, error) { return testKey(), nil })
	require.NoError(t, err)

	require.NoError(t, s.Delete())

	_, err = s.Get()
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestMasterKeyStoreDeleteUnavailableBackend(t *testing.T) {
	s := &MasterKeyStore{available: false}
	err := s.Delete()
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestMasterKeyStoreGetOrCreatePropagatesGenerateError(t *testing.T) {
	useMockKeyring(t)
	s := NewMasterKeyStore()

	wantErr := errors.New("rng exhausted")
	_, err := s.GetOrCreate(func() ([]byte, error) { return nil, wantErr })
	assert.ErrorIs(t, err, wantErr)
}
