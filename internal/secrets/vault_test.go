package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbracero/fresco/internal/store"
	"github.com/mbracero/fresco/pkg/schema"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func openTestVault(t *testing.T) (*Vault, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	v, err := Open(st, Config{MasterKey: testKey()})
	require.NoError(t, err)
	return v, st
}

func assertVaultCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var ferr *schema.FrescoError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, code, ferr.Code)
}

func TestVault_PutAndGet(t *testing.T) {
	v, _ := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "anthropic.primary", []byte("sk-secret-123")))

	val, err := v.Get(ctx, "anthropic.primary")
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-secret-123"), val)
}

func TestVault_CiphertextAtRest(t *testing.T) {
	v, st := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "mediasvc.token", []byte("plaintext-value")))

	raw, err := st.GetSecret(ctx, "mediasvc.token")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("plaintext-value"), raw)
	assert.Greater(t, len(raw), len("plaintext-value"), "nonce and GCM tag add overhead")
}

func TestVault_NonceVariesPerPut(t *testing.T) {
	v, st := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "a", []byte("same")))
	first, err := st.GetSecret(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, v.Put(ctx, "a", []byte("same")))
	second, err := st.GetSecret(ctx, "a")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "re-encrypting the same value must not repeat ciphertext")
}

func TestVault_PassphraseDerivation(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := Config{
		Passphrase: "my-secure-passphrase",
		Salt:       []byte("test-salt-16byte"),
		Iterations: 1000, // low for test speed
	}
	v, err := Open(st, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "k", []byte("value")))

	// A second vault over the same store and passphrase reads it back.
	again, err := Open(st, cfg)
	require.NoError(t, err)
	val, err := again.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), val)
}

func TestVault_WrongKeyCannotDecrypt(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	v1, err := Open(st, Config{MasterKey: make([]byte, 32)})
	require.NoError(t, err)
	require.NoError(t, v1.Put(ctx, "secret", []byte("hidden")))

	otherKey := make([]byte, 32)
	otherKey[0] = 0xFF
	v2, err := Open(st, Config{MasterKey: otherKey})
	require.NoError(t, err)

	_, err = v2.Get(ctx, "secret")
	assertVaultCode(t, err, schema.ErrCodeVault)
}

func TestVault_BadKeyMaterial(t *testing.T) {
	_, err := Open(store.NewMemoryStore(), Config{MasterKey: []byte("short")})
	assertVaultCode(t, err, schema.ErrCodeVault)

	_, err = Open(store.NewMemoryStore(), Config{})
	assertVaultCode(t, err, schema.ErrCodeVault)

	_, err = Open(store.NewMemoryStore(), Config{Passphrase: "p"})
	assertVaultCode(t, err, schema.ErrCodeVault)
}

func TestVault_Delete(t *testing.T) {
	v, _ := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "key", []byte("val")))
	require.NoError(t, v.Delete(ctx, "key"))

	_, err := v.Get(ctx, "key")
	assertVaultCode(t, err, schema.ErrCodeNotFound)
}

func TestVault_Names(t *testing.T) {
	v, _ := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "mediasvc.token", []byte("c")))
	require.NoError(t, v.Put(ctx, "anthropic.primary", []byte("a")))
	require.NoError(t, v.Put(ctx, "anthropic.backup", []byte("b")))

	names, err := v.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic.backup", "anthropic.primary", "mediasvc.token"}, names)
}

func TestVault_TamperedCiphertext(t *testing.T) {
	v, st := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "k", []byte("value")))

	raw, err := st.GetSecret(ctx, "k")
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, st.StoreSecret(ctx, "k", raw))

	_, err = v.Get(ctx, "k")
	assertVaultCode(t, err, schema.ErrCodeVault)
}
