// Package keyring stores the attestation master key from which every
// tenant's Ed25519 attestation key is derived.
//
// Three backends are available: the system keychain, a 0600 key file, and
// AWS Secrets Manager for deployments without a local keychain. The key is
// created on first use; concurrent first runs on one host are serialized by
// a lock file next to the key file.
package keyring

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/wangue52/diploma-secure/internal/log"
)

const (
	// ServiceName is the keychain service identifier.
	ServiceName = "diplomasecure"
	// AccountName is the keychain account identifier.
	AccountName = "attestation-master-key"
	// KeySize is the master key size in bytes.
	KeySize = 32
)

// ErrNotFound is returned by a backend that holds no key yet.
var ErrNotFound = errors.New("attestation key not found")

// ErrInsecurePermissions is returned when the key file has overly permissive permissions.
var ErrInsecurePermissions = errors.New("key file has insecure permissions")

func encodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: expected %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Backend stores one master key.
type Backend interface {
	Get(ctx context.Context) ([]byte, error)
	// Set stores key unless a key already exists, in which case it is a no-op.
	Set(ctx context.Context, key []byte) error
	Name() string
}

// Keychain stores the key in the system keychain.
type Keychain struct {
	Service string
}

func (k *Keychain) service() string {
	if k.Service != "" {
		return k.Service
	}
	return ServiceName
}

func (k *Keychain) Get(_ context.Context) ([]byte, error) {
	encoded, err := keyring.Get(k.service(), AccountName)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	return decodeKey(encoded)
}

func (k *Keychain) Set(_ context.Context, key []byte) error {
	if _, err := keyring.Get(k.service(), AccountName); err == nil {
		return nil
	}
	if err := keyring.Set(k.service(), AccountName, encodeKey(key)); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// Delete removes the key from the keychain.
func (k *Keychain) Delete() error {
	if err := keyring.Delete(k.service(), AccountName); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

func (k *Keychain) Name() string { return "system keychain" }

// File stores the key base64-encoded in a file readable only by its owner.
type File struct {
	Path string
}

func (f *File) Get(_ context.Context) ([]byte, error) {
	info, err := os.Stat(f.Path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s has permissions %04o (expected 0600); run chmod 600 %s and consider rotating the key",
			ErrInsecurePermissions, f.Path, perm, f.Path)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return decodeKey(string(data))
}

func (f *File) Set(_ context.Context, key []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	// Never removed: flock is held per inode.
	lf, err := os.OpenFile(f.Path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("creating lock file: %w", err)
	}
	defer lf.Close()

	unlock, err := lockFile(lf)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	defer unlock()

	if _, err := os.Stat(f.Path); err == nil {
		return nil
	}
	if err := os.WriteFile(f.Path, []byte(encodeKey(key)), 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

func (f *File) Name() string { return "file (" + f.Path + ")" }

// DefaultKeyFilePath returns ~/.diplomasecure/attestation.key.
func DefaultKeyFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory for key storage: %w", err)
	}
	return filepath.Join(home, ".diplomasecure", "attestation.key"), nil
}

func generateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

// GetOrCreate returns the key held by primary or fallback, generating and
// storing a new one when neither has it. fallback may be nil. The key is
// always re-read after storing so that a key written concurrently by
// another process wins.
func GetOrCreate(ctx context.Context, primary, fallback Backend) ([]byte, error) {
	backends := []Backend{primary}
	if fallback != nil {
		backends = append(backends, fallback)
	}

	var readErrs []error
	for _, b := range backends {
		key, err := b.Get(ctx)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrNotFound) {
			readErrs = append(readErrs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	// A key that exists but cannot be read must not be silently replaced.
	for _, err := range readErrs {
		if errors.Is(err, ErrInsecurePermissions) {
			return nil, err
		}
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	var setErrs []error
	for _, b := range backends {
		if err := b.Set(ctx, key); err != nil {
			log.Debug("storing attestation key failed", "backend", b.Name(), "error", err)
			setErrs = append(setErrs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		stored, err := b.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("verifying stored key in %s: %w", b.Name(), err)
		}
		if b != primary {
			log.Info("primary key store unavailable, using fallback", "fallback", b.Name())
		}
		return stored, nil
	}
	return nil, fmt.Errorf("storing attestation key: %w", errors.Join(append(readErrs, setErrs...)...))
}
