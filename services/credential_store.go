package services

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github/closedbook/rag/models"
)

// credentialsFile mirrors the on-disk YAML layout:
//
//	usernames:
//	  alice:
//	    name: alice
//	    email: alice@example.com
//	    password: $2a$...
type credentialsFile struct {
	Usernames map[string]credentialRecord `yaml:"usernames"`
}

type credentialRecord struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// CredentialStore is a typed, file-backed user registry. Passwords are
// stored as bcrypt hashes.
type CredentialStore struct {
	path string

	mu    sync.Mutex
	creds credentialsFile
}

// LoadCredentialStore reads the credential file, starting empty when it
// does not exist yet.
func LoadCredentialStore(path string) (*CredentialStore, error) {
	s := &CredentialStore{
		path:  path,
		creds: credentialsFile{Usernames: make(map[string]credentialRecord)},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.creds); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	if s.creds.Usernames == nil {
		s.creds.Usernames = make(map[string]credentialRecord)
	}
	return s, nil
}

// Register validates the registration form, hashes the password and
// persists the new user.
func (s *CredentialStore) Register(username, email, password, confirm string) error {
	if username == "" || email == "" || password == "" {
		return fmt.Errorf("%w: all fields are required", models.ErrInvalidInput)
	}
	if !isAlphanumeric(username) {
		return fmt.Errorf("%w: username must be alphanumeric", models.ErrInvalidInput)
	}
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return fmt.Errorf("%w: email address looks invalid", models.ErrInvalidInput)
	}
	if password != confirm {
		return fmt.Errorf("%w: passwords do not match", models.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.creds.Usernames[username]; exists {
		return fmt.Errorf("%w: username %s", models.ErrAlreadyExists, username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.creds.Usernames[username] = credentialRecord{
		Name:     username,
		Email:    email,
		Password: string(hash),
	}
	return s.persistLocked()
}

// Authenticate checks the password and returns the user's identity.
func (s *CredentialStore) Authenticate(username, password string) (*models.User, error) {
	s.mu.Lock()
	record, exists := s.creds.Usernames[username]
	s.mu.Unlock()

	if !exists {
		return nil, models.ErrAuthFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.Password), []byte(password)); err != nil {
		return nil, models.ErrAuthFailed
	}
	return &models.User{
		Username: username,
		Name:     record.Name,
		Email:    record.Email,
	}, nil
}

// Lookup returns a registered user's identity without checking a password.
func (s *CredentialStore) Lookup(username string) (*models.User, error) {
	s.mu.Lock()
	record, exists := s.creds.Usernames[username]
	s.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, username)
	}
	return &models.User{Username: username, Name: record.Name, Email: record.Email}, nil
}

func (s *CredentialStore) persistLocked() error {
	data, err := yaml.Marshal(s.creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
