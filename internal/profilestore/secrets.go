package profilestore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
	"gopkg.in/yaml.v3"
)

// SecretKeys are the profile options kept out of profile documents.
var SecretKeys = []string{"private_key", "preshared_key", "password"}

func isSecret(key string) bool {
	for _, k := range SecretKeys {
		if k == key {
			return true
		}
	}
	return false
}

// secretStore keeps profile secrets in the system keyring. When the keyring
// is unavailable it switches to a file encrypted with XChaCha20-Poly1305
// under a random key stored next to it.
type secretStore struct {
	service  string
	filePath string
	keyPath  string

	mu      sync.Mutex
	useFile bool
	loaded  bool
	local   map[string]string
}

func newSecretStore(service, dir string) *secretStore {
	return &secretStore{
		service:  service,
		filePath: filepath.Join(dir, ".secrets"),
		keyPath:  filepath.Join(dir, ".secrets.key"),
	}
}

func secretID(profile, key string) string {
	return profile + "/" + key
}

func (s *secretStore) Set(profile, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := secretID(profile, key)
	if !s.useFile {
		err := keyring.Set(s.service, id, value)
		if err == nil {
			return nil
		}
		s.useFile = true
	}
	if err := s.loadLocked(); err != nil {
		return err
	}
	s.local[id] = value
	return s.saveLocked()
}

// Get returns the secret or keyring.ErrNotFound.
func (s *secretStore) Get(profile, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := secretID(profile, key)
	if !s.useFile {
		v, err := keyring.Get(s.service, id)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, keyring.ErrNotFound) {
			return "", keyring.ErrNotFound
		}
	}
	if err := s.loadLocked(); err != nil {
		return "", err
	}
	v, ok := s.local[id]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

// All returns the secrets stored for profile.
func (s *secretStore) All(profile string) (map[string]string, error) {
	out := map[string]string{}
	for _, k := range SecretKeys {
		v, err := s.Get(profile, k)
		if errors.Is(err, keyring.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Delete removes every secret of profile from both backends.
func (s *secretStore) Delete(profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range SecretKeys {
		if !s.useFile {
			if err := keyring.Delete(s.service, secretID(profile, k)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
				s.useFile = true
			}
		}
	}

	if _, err := os.Stat(s.filePath); os.IsNotExist(err) && !s.loaded {
		return nil
	}
	if err := s.loadLocked(); err != nil {
		return err
	}
	changed := false
	for _, k := range SecretKeys {
		id := secretID(profile, k)
		if _, ok := s.local[id]; ok {
			delete(s.local, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveLocked()
}

func (s *secretStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	s.local = map[string]string{}

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	key, err := s.key()
	if err != nil {
		return err
	}
	plain, err := open(key, data)
	if err != nil {
		return fmt.Errorf("decrypt secrets: %w", err)
	}
	if err := yaml.Unmarshal(plain, &s.local); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}
	s.loaded = true
	return nil
}

func (s *secretStore) saveLocked() error {
	plain, err := yaml.Marshal(s.local)
	if err != nil {
		return err
	}
	key, err := s.key()
	if err != nil {
		return err
	}
	sealed, err := seal(key, plain)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return err
	}
	return os.WriteFile(s.filePath, sealed, 0600)
}

// key loads the file key, creating it on first use.
func (s *secretStore) key() ([]byte, error) {
	key, err := os.ReadFile(s.keyPath)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("secrets key has wrong size %d", len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.keyPath, key, 0600); err != nil {
		return nil, err
	}
	return key, nil
}

func seal(key, plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func open(key, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(data) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
