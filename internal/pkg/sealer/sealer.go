// Package sealer encrypts small payloads at rest with NaCl secretbox.
//
// The 32-byte box key is derived from an operator-supplied secret with
// HKDF-SHA256, so any secret length is accepted. Sealed output is
// nonce || box.
package sealer

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	hkdfSalt = []byte("portal-auth")
	hkdfInfo = []byte("session-store v1")
)

// ErrOpen is returned when a payload cannot be authenticated or is truncated.
var ErrOpen = errors.New("sealer: cannot open payload")

// Sealer seals and opens payloads with a single derived key. A nil *Sealer is
// valid and passes data through unchanged.
type Sealer struct {
	key [keySize]byte
}

// New derives a Sealer from secret. An empty secret yields a nil Sealer.
func New(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, nil
	}

	s := &Sealer{}
	r := hkdf.New(sha256.New, []byte(secret), hkdfSalt, hkdfInfo)
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, fmt.Errorf("sealer: derive key: %w", err)
	}
	return s, nil
}

// Seal encrypts and authenticates plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if s == nil {
		return plaintext, nil
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("sealer: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if s == nil {
		return sealed, nil
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrOpen
	}
	return out, nil
}
