package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKey     = errors.New("vault: invalid encryption key")
	ErrInvalidPayload = errors.New("vault: invalid encrypted payload")
	ErrDecryption     = errors.New("vault: decryption failed")
)

const hkdfInfo = "paygate/provider-config/v1"

// Provider defines the interface for encryption/decryption backends.
type Provider interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// State tells how a stored value was recovered by Open.
type State int

const (
	// StatePlaintext means the value was never encrypted.
	StatePlaintext State = iota
	// StateDecrypted means the value was a vault envelope and decrypted cleanly.
	StateDecrypted
)

func (s State) String() string {
	switch s {
	case StatePlaintext:
		return "plaintext"
	case StateDecrypted:
		return "decrypted"
	default:
		return "unknown"
	}
}

// Open recovers a stored value. Values that are not vault envelopes are
// returned as-is with StatePlaintext. An envelope that fails to decrypt is an
// error and is never reinterpreted as plaintext.
func Open(p Provider, data []byte) ([]byte, State, error) {
	if !IsEnvelope(data) {
		return data, StatePlaintext, nil
	}
	if p == nil {
		return nil, StateDecrypted, ErrInvalidKey
	}
	plaintext, err := p.Decrypt(data)
	if err != nil {
		return nil, StateDecrypted, err
	}
	return plaintext, StateDecrypted, nil
}

type EncryptedData struct {
	Version    int    `json:"v"`
	Nonce      string `json:"n"`
	Ciphertext string `json:"c"`
}

// IsEnvelope reports whether data has the shape written by Encrypt.
func IsEnvelope(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	if len(probe) != 3 {
		return false
	}
	for _, key := range []string{"v", "n", "c"} {
		if _, ok := probe[key]; !ok {
			return false
		}
	}
	return true
}

// AESVault implements Provider using AES-256-GCM.
type AESVault struct {
	key []byte
}

func NewAESVault(keyStr string) (*AESVault, error) {
	if strings.TrimSpace(keyStr) == "" {
		return nil, ErrInvalidKey
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(keyStr), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	return &AESVault{key: key}, nil
}

func (v *AESVault) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return json.Marshal(EncryptedData{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	})
}

func (v *AESVault) Decrypt(data []byte) ([]byte, error) {
	var payload EncryptedData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, ErrInvalidPayload
	}
	if payload.Version != 1 {
		return nil, ErrInvalidPayload
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, ErrInvalidPayload
	}

	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrInvalidPayload
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func (v *AESVault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
