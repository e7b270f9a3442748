package manager

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironca/config"
	"github.com/jmcleod/ironca/engine"
	"github.com/jmcleod/ironca/storage"
	bboltstorage "github.com/jmcleod/ironca/storage/bbolt"
	"github.com/jmcleod/ironca/storage/memory"
	"github.com/jmcleod/ironca/storage/postgres"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// OpenRepository opens the configured record store. The returned closer
// releases it.
func OpenRepository(ctx context.Context, cfg *config.Config) (storage.Repository, io.Closer, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return memory.NewRepository(), nopCloser{}, nil
	case config.DriverBolt:
		path := cfg.Resolve(cfg.Storage.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating storage directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(path, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("opening bbolt storage: %w", err)
		}
		return repo, repo, nil
	case config.DriverPostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres storage: %w", err)
		}
		return repo, closerFunc(repo.Close), nil
	}
	return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
}

// LoadSealKey reads a 32-byte key, raw or hex encoded, into an enclave. An
// empty path yields nil and CA keys are stored unsealed.
func LoadSealKey(path string) (*memguard.Enclave, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seal key: %w", err)
	}
	key := data
	if trimmed := strings.TrimSpace(string(data)); len(trimmed) == 64 {
		if decoded, err := hex.DecodeString(trimmed); err == nil {
			memguard.WipeBytes(data)
			key = decoded
		}
	}
	if len(key) != 32 {
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(key))
	}
	return memguard.NewEnclave(key), nil
}

// OpenKeyStore opens the store holding CA keys.
func OpenKeyStore(cfg *config.Config) (engine.KeyStore, io.Closer, error) {
	switch cfg.KeyStore.Type {
	case config.KeyStoreSoftware:
		return engine.NewSoftwareKeyStore(), nopCloser{}, nil
	case config.KeyStorePKCS11:
		pin, err := cfg.KeyStore.PKCS11.PIN()
		if err != nil {
			return nil, nil, err
		}
		ks, err := engine.NewPKCS11KeyStore(engine.PKCS11Config{
			ModulePath: cfg.Resolve(cfg.KeyStore.PKCS11.Lib),
			TokenLabel: cfg.KeyStore.PKCS11.Token,
			PIN:        pin,
			SlotNumber: cfg.KeyStore.PKCS11.Slot,
		})
		if err != nil {
			return nil, nil, err
		}
		return ks, ks, nil
	}
	return nil, nil, fmt.Errorf("unsupported keystore type %q", cfg.KeyStore.Type)
}
