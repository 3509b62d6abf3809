package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EnvelopePrefix marks a value sealed by AppKeyCipher.
const EnvelopePrefix = "esim.secret.v1:"

const envelopeAlgorithm = "aes-256-gcm"

var errNotSealed = errors.New("security: value is not a sealed envelope")

// sealedValue is the JSON body after EnvelopePrefix. Nonce and Payload are
// base64 on the wire.
type sealedValue struct {
	KeyID     string `json:"kid"`
	Version   int    `json:"ver"`
	Algorithm string `json:"alg"`
	Nonce     []byte `json:"nonce"`
	Payload   []byte `json:"ciphertext"`
}

// EnvelopeMetadata is the readable header of a sealed value.
type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
}

func IsSealed(value []byte) bool {
	return bytes.HasPrefix(value, []byte(EnvelopePrefix))
}

// ParseEnvelopeMetadata reads the header without opening the payload.
func ParseEnvelopeMetadata(value []byte) (EnvelopeMetadata, error) {
	sealed, err := unseal(value)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return sealed.metadata(), nil
}

func (s sealedValue) metadata() EnvelopeMetadata {
	return EnvelopeMetadata{KeyID: s.KeyID, Version: s.Version, Algorithm: s.Algorithm}
}

// header is bound to the payload as GCM additional data.
func (s sealedValue) header() []byte {
	return []byte(strings.Join([]string{s.Algorithm, s.KeyID, strconv.Itoa(s.Version)}, "|"))
}

func (s sealedValue) marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	out := make([]byte, 0, len(EnvelopePrefix)+len(data))
	out = append(out, EnvelopePrefix...)
	return append(out, data...), nil
}

func unseal(value []byte) (sealedValue, error) {
	if !IsSealed(value) {
		return sealedValue{}, errNotSealed
	}
	var sealed sealedValue
	if err := json.Unmarshal(value[len(EnvelopePrefix):], &sealed); err != nil {
		return sealedValue{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	sealed.KeyID = strings.TrimSpace(sealed.KeyID)
	sealed.Algorithm = strings.ToLower(strings.TrimSpace(sealed.Algorithm))
	if sealed.Algorithm == "" {
		sealed.Algorithm = envelopeAlgorithm
	}
	switch {
	case len(sealed.Nonce) == 0:
		return sealedValue{}, fmt.Errorf("security: envelope nonce is required")
	case len(sealed.Payload) == 0:
		return sealedValue{}, fmt.Errorf("security: envelope ciphertext is required")
	}
	return sealed, nil
}
