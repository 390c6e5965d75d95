package registry

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/makarski/mstream/pkg/mstream/merr"
)

const (
	defaultEncKeyPath = "./mstream.key"
	encKeyEnvVar       = "MSTREAM_ENC_KEY"
	aes256KeyLen       = 32
)

// Encryptor wraps AES-256-GCM, grounded on
// original_source/src/provision/encryption.rs's Encryptor.
type Encryptor struct {
	gcm cipher.AEAD
}

// EncryptedData is the persisted shape for an encrypted storage field.
type EncryptedData struct {
	Data  []byte
	Nonce []byte
}

// NewEncryptor builds an Encryptor from a raw 32-byte AES-256 key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Annotate(err, "registry.NewEncryptor: new aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Annotate(err, "registry.NewEncryptor: new gcm")
	}
	return &Encryptor{gcm: gcm}, nil
}

// Encrypt seals b under a freshly generated nonce.
func (e *Encryptor) Encrypt(b []byte) (EncryptedData, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedData{}, errors.Annotate(err, "registry.Encrypt: generate nonce")
	}
	ciphertext := e.gcm.Seal(nil, nonce, b, nil)
	return EncryptedData{Data: ciphertext, Nonce: nonce}, nil
}

// Decrypt opens b under nonce.
func (e *Encryptor) Decrypt(nonce, b []byte) ([]byte, error) {
	plaintext, err := e.gcm.Open(nil, nonce, b, nil)
	if err != nil {
		return nil, errors.Annotate(err, "registry.Decrypt: gcm open")
	}
	return plaintext, nil
}

// LoadEncryptionKey resolves the AES-256 key per
// original_source/src/provision/encryption.rs's get_encryption_key:
// MSTREAM_ENC_KEY env var (hex) takes precedence; otherwise a key file
// (keyPath, defaulting to ./mstream.key) is read or generated with 0600
// permissions.
func LoadEncryptionKey(keyPath string) ([]byte, error) {
	if hexKey, ok := os.LookupEnv(encKeyEnvVar); ok {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, merr.ConfigError("decode %s from hex: %v", encKeyEnvVar, err)
		}
		if len(key) != aes256KeyLen {
			return nil, merr.ConfigError("invalid encryption key length in %s: expected %d bytes for AES-256", encKeyEnvVar, aes256KeyLen)
		}
		return key, nil
	}

	path := keyPath
	if path == "" {
		path = defaultEncKeyPath
	}

	if _, err := os.Stat(path); err == nil {
		return encryptionKeyFromFile(path)
	}

	log.Warn("encryption key file not found, generating a new one", zap.String("path", path))
	if err := generateEncryptionKeyFile(path); err != nil {
		return nil, err
	}
	return encryptionKeyFromFile(path)
}

func encryptionKeyFromFile(path string) ([]byte, error) {
	hexKey, err := os.ReadFile(path)
	if err != nil {
		return nil, merr.ConfigError("read encryption key file %s: %v", path, err)
	}
	key, err := hex.DecodeString(string(hexKey))
	if err != nil {
		return nil, merr.ConfigError("decode encryption key file %s from hex: %v", path, err)
	}
	if len(key) != aes256KeyLen {
		return nil, merr.ConfigError("invalid encryption key length in %s: expected %d bytes for AES-256", path, aes256KeyLen)
	}
	return key, nil
}

func generateEncryptionKeyFile(path string) error {
	key := make([]byte, aes256KeyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return errors.Annotate(err, "registry.generateEncryptionKeyFile: read random key")
	}
	hexKey := hex.EncodeToString(key)
	if err := os.WriteFile(path, []byte(hexKey), 0o600); err != nil {
		return merr.ConfigError("write encryption key file %s: %v", path, err)
	}
	log.Warn("generated new encryption key file; back it up securely", zap.String("path", path))
	return nil
}
