package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/goliatone/go-esim/core"
)

const (
	defaultKeyID   = "app-key"
	defaultVersion = 1
)

var errNilCipher = errors.New("security: cipher is nil")

type Option func(*AppKeyCipher)

// AppKeyCipher seals provider secrets with AES-GCM under one application
// key. The key id and version travel in the envelope header and are
// authenticated with the payload, so a rotated key refuses old values.
type AppKeyCipher struct {
	aead    cipher.AEAD
	keyID   string
	version int
	random  io.Reader
}

func WithKeyID(id string) Option {
	return func(c *AppKeyCipher) {
		if id = strings.TrimSpace(id); id != "" {
			c.keyID = id
		}
	}
}

func WithVersion(version int) Option {
	return func(c *AppKeyCipher) {
		if version > 0 {
			c.version = version
		}
	}
}

// WithRandom swaps the nonce source.
func WithRandom(r io.Reader) Option {
	return func(c *AppKeyCipher) {
		if r != nil {
			c.random = r
		}
	}
}

// NewAppKeyCipher accepts raw AES key material (16, 24 or 32 bytes). Any
// other length is stretched with SHA-256.
func NewAppKeyCipher(keyMaterial []byte, opts ...Option) (*AppKeyCipher, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	aead, err := newAEAD(aesKey(material))
	if err != nil {
		return nil, err
	}
	c := &AppKeyCipher{
		aead:    aead,
		keyID:   defaultKeyID,
		version: defaultVersion,
		random:  rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func NewAppKeyCipherFromString(key string, opts ...Option) (*AppKeyCipher, error) {
	return NewAppKeyCipher([]byte(key), opts...)
}

func (c *AppKeyCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if c == nil {
		return nil, errNilCipher
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	sealed := sealedValue{
		KeyID:     c.keyID,
		Version:   c.version,
		Algorithm: envelopeAlgorithm,
		Nonce:     make([]byte, c.aead.NonceSize()),
	}
	if _, err := io.ReadFull(c.random, sealed.Nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed.Payload = c.aead.Seal(nil, sealed.Nonce, plaintext, sealed.header())
	return sealed.marshal()
}

func (c *AppKeyCipher) Decrypt(_ context.Context, value []byte) ([]byte, error) {
	if c == nil {
		return nil, errNilCipher
	}
	sealed, err := unseal(value)
	if err != nil {
		return nil, err
	}
	if err := c.accepts(sealed.metadata()); err != nil {
		return nil, err
	}
	if len(sealed.Nonce) != c.aead.NonceSize() {
		return nil, fmt.Errorf("security: envelope nonce has %d bytes", len(sealed.Nonce))
	}
	plaintext, err := c.aead.Open(nil, sealed.Nonce, sealed.Payload, sealed.header())
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (c *AppKeyCipher) accepts(meta EnvelopeMetadata) error {
	switch {
	case meta.Algorithm != envelopeAlgorithm:
		return fmt.Errorf("security: unsupported envelope algorithm %q", meta.Algorithm)
	case meta.KeyID != c.keyID:
		return fmt.Errorf("security: key id mismatch: got %q want %q", meta.KeyID, c.keyID)
	case meta.Version != c.version:
		return fmt.Errorf("security: key version mismatch: got %d want %d", meta.Version, c.version)
	}
	return nil
}

func (c *AppKeyCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *AppKeyCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.version
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return aead, nil
}

func aesKey(material []byte) []byte {
	switch len(material) {
	case 16, 24, 32:
		return slices.Clone(material)
	}
	sum := sha256.Sum256(material)
	return sum[:]
}

var _ core.SecretCipher = (*AppKeyCipher)(nil)
