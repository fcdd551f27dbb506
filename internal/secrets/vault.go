// Package secrets keeps backend credentials encrypted at rest. API keys and
// service tokens live in the store as AES-256-GCM ciphertext and are only
// decrypted in memory when the server assembles its backend clients.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/mbracero/fresco/internal/store"
	"github.com/mbracero/fresco/pkg/schema"
)

const (
	keySize           = 32
	defaultIterations = 100_000
)

// Config supplies the vault's key material. Set MasterKey to a raw 32-byte
// key, or Passphrase plus Salt to derive one via PBKDF2.
type Config struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 rounds, defaults to 100k
}

// Vault encrypts named credentials with AES-256-GCM and persists the
// ciphertext through the store's secrets table.
type Vault struct {
	store store.Store
	aead  cipher.AEAD
}

// Open builds a vault over the store, deriving the cipher key from cfg.
func Open(st store.Store, cfg Config) (*Vault, error) {
	key := cfg.MasterKey
	if len(key) == 0 {
		if cfg.Passphrase == "" {
			return nil, schema.NewError(schema.ErrCodeVault, "vault needs a master key or a passphrase")
		}
		if len(cfg.Salt) == 0 {
			return nil, schema.NewError(schema.ErrCodeVault, "passphrase key derivation needs a salt")
		}
		iterations := cfg.Iterations
		if iterations <= 0 {
			iterations = defaultIterations
		}
		derived, err := pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, keySize)
		if err != nil {
			return nil, fmt.Errorf("derive vault key: %w", err)
		}
		key = derived
	}
	if len(key) != keySize {
		return nil, schema.NewErrorf(schema.ErrCodeVault,
			"master key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Vault{store: st, aead: aead}, nil
}

// Put encrypts value under a fresh nonce and persists it as name. The
// nonce is prepended to the ciphertext.
func (v *Vault) Put(ctx context.Context, name string, value []byte) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return v.store.StoreSecret(ctx, name, v.aead.Seal(nonce, nonce, value, nil))
}

// Get loads and decrypts the named credential.
func (v *Vault) Get(ctx context.Context, name string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	ns := v.aead.NonceSize()
	if len(sealed) < ns {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %s: ciphertext truncated", name)
	}
	value, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %s: %s", name, err.Error())
	}
	return value, nil
}

// Delete removes the named credential.
func (v *Vault) Delete(ctx context.Context, name string) error {
	return v.store.DeleteSecret(ctx, name)
}

// Names lists the stored credential names in sorted order.
func (v *Vault) Names(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
