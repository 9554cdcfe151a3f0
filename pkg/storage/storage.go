// Package storage persists enrolled users and the door schedule.
// Records are encrypted at rest with NaCl secretbox under a key
// derived from machine identity, so copied files are useless on other
// hosts.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/door"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/recognition"
)

const (
	// NonceSize is the secretbox nonce length prepended to records.
	NonceSize = 24
	// KeySize is the secretbox key length.
	KeySize = 32
)

// EnrolledUser is one person allowed through the door, with the face
// descriptors captured at enrollment.
type EnrolledUser struct {
	UserID      string                   `json:"user_id"`
	Name        string                   `json:"name"`
	Descriptors []recognition.Descriptor `json:"descriptors"`
	EnrolledAt  time.Time                `json:"enrolled_at"`
	LastAccess  time.Time                `json:"last_access"`
	Active      bool                     `json:"active"`
}

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already enrolled")
	ErrEncryption   = errors.New("encryption error")
)

// Store is the file-backed user and schedule store.
type Store struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewStore opens (creating if needed) a store rooted at dataDir.
func NewStore(dataDir string, encryptionEnabled bool) (*Store, error) {
	s := &Store{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}
	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		s.encryptionKey = key
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "users"), 0700); err != nil {
		return nil, fmt.Errorf("failed to create users directory: %w", err)
	}
	return s, nil
}

// deriveKey builds the encryption key from machine identity so records
// cannot be decrypted on another host.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("doorguard-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])
	return key, nil
}

func (s *Store) userPath(userID string) string {
	ext := ".json"
	if s.encryptionEnabled {
		ext = ".enc"
	}
	return filepath.Join(s.dataDir, "users", userID+ext)
}

func (s *Store) schedulePath() string {
	ext := ".json"
	if s.encryptionEnabled {
		ext = ".enc"
	}
	return filepath.Join(s.dataDir, "schedule"+ext)
}

// CreateUser enrolls a new user. Enrolling an existing ID fails.
func (s *Store) CreateUser(userID, name string, descriptors []recognition.Descriptor) error {
	if s.UserExists(userID) {
		return ErrUserExists
	}
	now := time.Now()
	return s.SaveUser(EnrolledUser{
		UserID:      userID,
		Name:        name,
		Descriptors: descriptors,
		EnrolledAt:  now,
		LastAccess:  now,
		Active:      true,
	})
}

// SaveUser writes a user record, overwriting any previous version.
func (s *Store) SaveUser(user EnrolledUser) error {
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user record: %w", err)
	}
	if err := s.writeRecord(s.userPath(user.UserID), data); err != nil {
		return err
	}
	logging.Debugf("Saved user record for: %s", user.UserID)
	return nil
}

// LoadUser reads one user record.
func (s *Store) LoadUser(userID string) (*EnrolledUser, error) {
	data, err := s.readRecord(s.userPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	var user EnrolledUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user record: %w", err)
	}
	return &user, nil
}

// DeleteUser removes a user record.
func (s *Store) DeleteUser(userID string) error {
	if err := os.Remove(s.userPath(userID)); err != nil {
		if os.IsNotExist(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to delete user record: %w", err)
	}
	logging.Infof("Deleted user record for: %s", userID)
	return nil
}

// ListUsers returns the IDs of all enrolled users.
func (s *Store) ListUsers() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "users"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var users []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".json"):
			users = append(users, strings.TrimSuffix(name, ".json"))
		case strings.HasSuffix(name, ".enc"):
			users = append(users, strings.TrimSuffix(name, ".enc"))
		}
	}
	return users, nil
}

// UserExists reports whether a user record is present.
func (s *Store) UserExists(userID string) bool {
	_, err := os.Stat(s.userPath(userID))
	return err == nil
}

// AddDescriptor appends an enrollment sample to an existing user.
func (s *Store) AddDescriptor(userID string, d recognition.Descriptor) error {
	user, err := s.LoadUser(userID)
	if err != nil {
		return err
	}
	user.Descriptors = append(user.Descriptors, d)
	return s.SaveUser(*user)
}

// TouchAccess records a successful access for the user.
func (s *Store) TouchAccess(userID string) error {
	user, err := s.LoadUser(userID)
	if err != nil {
		return err
	}
	user.LastAccess = time.Now()
	return s.SaveUser(*user)
}

// Gallery builds the matching gallery from all active users. Each
// user's enrollment samples are averaged into a single profile.
func (s *Store) Gallery() ([]recognition.Profile, error) {
	ids, err := s.ListUsers()
	if err != nil {
		return nil, err
	}
	gallery := make([]recognition.Profile, 0, len(ids))
	for _, id := range ids {
		user, err := s.LoadUser(id)
		if err != nil {
			return nil, err
		}
		if !user.Active || len(user.Descriptors) == 0 {
			continue
		}
		gallery = append(gallery, recognition.Profile{
			UserID:     user.UserID,
			Descriptor: recognition.AverageDescriptor(user.Descriptors),
		})
	}
	return gallery, nil
}

// SaveSchedule persists the weekly door schedule.
func (s *Store) SaveSchedule(w door.WeekSchedule) error {
	if err := w.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	return s.writeRecord(s.schedulePath(), data)
}

// LoadSchedule reads the weekly door schedule. A missing file yields
// the default schedule.
func (s *Store) LoadSchedule() (door.WeekSchedule, error) {
	data, err := s.readRecord(s.schedulePath())
	if err != nil {
		if os.IsNotExist(err) {
			return door.DefaultWeekSchedule(), nil
		}
		return nil, err
	}
	var w door.WeekSchedule
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	return w, nil
}

func (s *Store) writeRecord(path string, data []byte) error {
	if s.encryptionEnabled {
		var err error
		data, err = s.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt record: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (s *Store) readRecord(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if s.encryptionEnabled {
		data, err = s.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt record: %w", err)
		}
	}
	return data, nil
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.encryptionKey), nil
}

func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
