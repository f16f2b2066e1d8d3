// Package secrets provides the encrypted credential store for connection
// passwords. Credentials are kept in a single AES-256-GCM encrypted file;
// the key is derived with Argon2id from a machine-local secret (or
// HARBOR_MASTER_KEY when set). The store is the source of truth for saved
// passwords; catalogue records never carry plaintext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256

	credentialsFile = "credentials.enc"
	keyFile         = "credential.key"
	saltFile        = "credential.salt"
	saltLength      = 16
	keyLength       = 32

	// MasterKeyEnv overrides the machine-local key material.
	MasterKeyEnv = "HARBOR_MASTER_KEY"
)

var (
	ErrCorruptStore = errors.New("credential store is corrupt or the key changed")
)

// Credential is one stored secret.
type Credential struct {
	CredentialID string `json:"credentialId"`
	Password     string `json:"password"`
}

// Store is the encrypted credential store. All operations are safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	key      []byte
	filePath string
	data     map[string]string // credential id -> password
}

// Open opens (creating if needed) the credential store in configDir.
func Open(configDir string) (*Store, error) {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	s := &Store{
		filePath: filepath.Join(configDir, credentialsFile),
		data:     make(map[string]string),
	}

	secret, err := keyMaterial(configDir)
	if err != nil {
		return nil, err
	}
	salt, err := getOrCreate(filepath.Join(configDir, saltFile), saltLength)
	if err != nil {
		return nil, fmt.Errorf("failed to get salt: %w", err)
	}
	s.key = argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	if _, err := os.Stat(s.filePath); err == nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// keyMaterial returns the secret the encryption key is derived from:
// HARBOR_MASTER_KEY if set, else a generated machine-local key file.
func keyMaterial(configDir string) ([]byte, error) {
	if env := os.Getenv(MasterKeyEnv); env != "" {
		return []byte(env), nil
	}
	key, err := getOrCreate(filepath.Join(configDir, keyFile), keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to get key material: %w", err)
	}
	return key, nil
}

func getOrCreate(path string, length int) ([]byte, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) == length {
		return b, nil
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) load() error {
	ciphertext, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to read credentials file: %w", err)
	}
	plaintext, err := s.decrypt(ciphertext)
	if err != nil {
		return ErrCorruptStore
	}
	if err := json.Unmarshal(plaintext, &s.data); err != nil {
		return ErrCorruptStore
	}
	return nil
}

func (s *Store) save() error {
	plaintext, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	ciphertext, err := s.encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	if err := os.WriteFile(s.filePath, ciphertext, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}

// Read looks up the credential with the given id. The second return value
// is false when no credential is stored under the id.
func (s *Store) Read(credentialID string) (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	password, ok := s.data[credentialID]
	if !ok {
		return Credential{}, false, nil
	}
	return Credential{CredentialID: credentialID, Password: password}, true, nil
}

// Save stores (or replaces) a credential and persists the store.
func (s *Store) Save(credentialID, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[credentialID] = password
	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a credential. Returns false when the id was absent.
func (s *Store) Delete(credentialID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[credentialID]; !ok {
		return false, nil
	}
	delete(s.data, credentialID)
	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}
