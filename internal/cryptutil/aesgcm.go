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

// Package cryptutil implements at-rest encryption of raw run transcripts
// using AES-256-GCM, with a wire format of {alg, nonce, ciphertext} so
// artifacts remain self-describing on disk.
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Algorithm is the fixed algorithm tag in the encrypted envelope.
const Algorithm = "aes-256-gcm"

// Envelope is the on-disk JSON shape for an encrypted artifact.
type Envelope struct {
	Alg        string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// AESGCMCipher encrypts and decrypts byte payloads with a 32-byte master key.
type AESGCMCipher struct {
	aead cipher.AEAD
}

// New constructs an AESGCMCipher. masterKey must be exactly 32 bytes.
func New(masterKey []byte) (*AESGCMCipher, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidKey, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM mode: %w", err)
	}
	return &AESGCMCipher{aead: aead}, nil
}

// Seal encrypts plaintext into an Envelope with a fresh random nonce.
func (c *AESGCMCipher) Seal(plaintext []byte) (Envelope, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)
	return Envelope{
		Alg:        Algorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Open decrypts an Envelope back into plaintext.
func (c *AESGCMCipher) Open(env Envelope) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding nonce: %v", ErrInvalidCiphertext, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding ciphertext: %v", ErrInvalidCiphertext, err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", ErrInvalidCiphertext)
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return plaintext, nil
}

// SealToJSON encrypts plaintext and marshals the envelope to JSON bytes,
// the format written to an artifacts/<run>.enc.json file.
func (c *AESGCMCipher) SealToJSON(plaintext []byte) ([]byte, error) {
	env, err := c.Seal(plaintext)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// OpenFromJSON parses and decrypts an envelope previously produced by SealToJSON.
func (c *AESGCMCipher) OpenFromJSON(data []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: parsing envelope: %v", ErrInvalidCiphertext, err)
	}
	if env.Alg != Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidCiphertext, env.Alg)
	}
	return c.Open(env)
}

// GenerateKey returns a cryptographically random 32-byte AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}
