package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/mbracero/fresco/internal/config"
	"github.com/mbracero/fresco/internal/secrets"
	"github.com/mbracero/fresco/internal/store"
)

func secretsCommand() *cli.Command {
	return &cli.Command{
		Name:  "secrets",
		Usage: "Manage encrypted credentials in the vault",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a credential",
				ArgsUsage: "<key> <value>",
				Action:    secretsSet,
			},
			{
				Name:      "get",
				Usage:     "Print a credential's plaintext value",
				ArgsUsage: "<key>",
				Action:    secretsGet,
			},
			{
				Name:   "list",
				Usage:  "List stored credential keys",
				Action: secretsList,
			},
			{
				Name:      "rm",
				Usage:     "Delete a credential",
				ArgsUsage: "<key>",
				Action:    secretsDelete,
			},
		},
	}
}

// openVault opens the libsql-backed vault using the configured key material.
// The returned closer releases the store.
func openVault(ctx context.Context) (*secrets.Vault, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Vault.Enabled() {
		return nil, nil, fmt.Errorf("vault is not configured: set FRESCO_VAULT_KEY or FRESCO_VAULT_PASSPHRASE")
	}

	st, err := store.NewLibSQLStore(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	vault, err := newVault(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return vault, func() { _ = st.Close() }, nil
}

// newVault builds the vault over the given store.
func newVault(cfg *config.Config, st store.Store) (*secrets.Vault, error) {
	key, err := cfg.Vault.MasterKey()
	if err != nil {
		return nil, err
	}
	return secrets.Open(st, secrets.Config{
		MasterKey:  key,
		Passphrase: cfg.Vault.Passphrase,
		Salt:       []byte(cfg.Vault.Salt),
	})
}

func secretsSet(ctx context.Context, command *cli.Command) error {
	key, value := command.Args().Get(0), command.Args().Get(1)
	if key == "" || value == "" {
		return fmt.Errorf("usage: fresco secrets set <key> <value>")
	}

	vault, closeVault, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer closeVault()

	if err := vault.Put(ctx, key, []byte(value)); err != nil {
		return err
	}
	fmt.Printf("stored %s\n", key)
	return nil
}

func secretsGet(ctx context.Context, command *cli.Command) error {
	key := command.Args().First()
	if key == "" {
		return fmt.Errorf("usage: fresco secrets get <key>")
	}

	vault, closeVault, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer closeVault()

	value, err := vault.Get(ctx, key)
	if err != nil {
		return err
	}
	fmt.Println(string(value))
	return nil
}

func secretsList(ctx context.Context, _ *cli.Command) error {
	vault, closeVault, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer closeVault()

	names, err := vault.Names(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func secretsDelete(ctx context.Context, command *cli.Command) error {
	key := command.Args().First()
	if key == "" {
		return fmt.Errorf("usage: fresco secrets rm <key>")
	}

	vault, closeVault, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer closeVault()

	if err := vault.Delete(ctx, key); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", key)
	return nil
}
