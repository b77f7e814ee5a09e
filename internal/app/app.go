// Package app wires the diploma service components together.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wangue52/diploma-secure/internal/audit"
	"github.com/wangue52/diploma-secure/internal/config"
	"github.com/wangue52/diploma-secure/internal/db"
	"github.com/wangue52/diploma-secure/internal/keyring"
	"github.com/wangue52/diploma-secure/internal/ledger"
	"github.com/wangue52/diploma-secure/internal/policy"
	"github.com/wangue52/diploma-secure/internal/registry"
	"github.com/wangue52/diploma-secure/internal/replacement"
	"github.com/wangue52/diploma-secure/internal/verification"
)

// App holds every component of a running service.
type App struct {
	Config       *config.Config
	DB           *db.Sqlite
	Audit        *audit.Log
	Store        *registry.Store
	Ledger       *ledger.Ledger
	Replacements *replacement.Engine
	Verifier     *verification.Service
	Policy       policy.Provider

	keyMu     sync.Mutex
	masterKey []byte
}

// Open opens the database and builds the components described by cfg.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	sq, err := db.OpenWithSchema(ctx, cfg.Database.Path, db.Options{MaxOpenReadConns: cfg.Database.MaxOpenReadConns})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	p, err := loadPolicy(cfg.Policy)
	if err != nil {
		sq.Close()
		return nil, err
	}

	auditLog := audit.New(sq)
	store := registry.New(sq, auditLog)
	return &App{
		Config:       cfg,
		DB:           sq,
		Audit:        auditLog,
		Store:        store,
		Ledger:       ledger.New(store, p, ledger.WithBulkConcurrency(cfg.Signing.BulkConcurrency)),
		Replacements: replacement.New(store),
		Verifier:     verification.New(store),
		Policy:       p,
	}, nil
}

func loadPolicy(c config.PolicyConfig) (*policy.Static, error) {
	if c.File != "" {
		p, err := policy.Load(c.File)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	p, err := policy.NewStatic(policy.File{Default: policy.Rule{
		RequiredSignatures: c.DefaultRequiredSignatures,
		SignerRoles:        c.DefaultSignerRoles,
	}})
	if err != nil {
		return nil, fmt.Errorf("policy defaults: %w", err)
	}
	return p, nil
}

// AttestationSigner returns the tenant's attestation signer. The master key
// is loaded on first use, so commands that never attest do not touch the
// keychain. A failed load is retried by the next caller.
func (a *App) AttestationSigner(ctx context.Context, tenantID string) (*audit.Signer, error) {
	key, err := a.loadMasterKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading attestation key: %w", err)
	}
	return audit.DeriveSigner(key, tenantID)
}

func (a *App) loadMasterKey(ctx context.Context) ([]byte, error) {
	a.keyMu.Lock()
	defer a.keyMu.Unlock()
	if a.masterKey != nil {
		return a.masterKey, nil
	}
	// The key outlives the request that first needs it.
	key, err := keyring.Open(context.WithoutCancel(ctx), keyring.Options{
		Backend:   a.Config.Attestation.Backend,
		KeyFile:   a.Config.Attestation.KeyFile,
		AWSSecret: a.Config.Attestation.AWSSecret,
		AWSRegion: a.Config.Attestation.AWSRegion,
	})
	if err != nil {
		return nil, err
	}
	a.masterKey = key
	return key, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}
