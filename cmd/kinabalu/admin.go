package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/n9te9/kinabalu/accounts"
	"github.com/n9te9/kinabalu/auth"
	"github.com/n9te9/kinabalu/catalog"
	"github.com/n9te9/kinabalu/config"
	"github.com/n9te9/kinabalu/store"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite it", configPath)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			raw, err := config.Marshal(config.Default())
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, raw, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", configPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func keygenCmd() *cobra.Command {
	var dir string
	var bits int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the RSA key pair accounts signs with and the gateway verifies with",
		RunE: func(cmd *cobra.Command, args []string) error {
			privatePEM, publicPEM, err := auth.GenerateKeyPair(bits)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}

			privatePath := filepath.Join(dir, "private.pem")
			publicPath := filepath.Join(dir, "public.pem")
			if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", privatePath, err)
			}
			if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", publicPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", privatePath, publicPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "keys", "directory to write private.pem and public.pem to")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	return cmd
}

func addProductCmd() *cobra.Command {
	var name string
	var price float64
	cmd := &cobra.Command{
		Use:   "add-product",
		Short: "Add a product to the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("catalog")
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := openStore(ctx, cfg.Catalog.Store, catalog.Models())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close(db) }()

			p, err := catalog.NewService(db).AddProduct(ctx, name, price)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "product %d: %s at %.2f\n", p.ID, p.Name, p.Price)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "product name")
	cmd.Flags().Float64Var(&price, "price", 0, "product price")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func createUserCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Register a user that can log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("accounts")
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if password == "" {
				password = os.Getenv("KINABALU_PASSWORD")
			}

			db, err := openStore(ctx, cfg.Accounts.Store, accounts.Models())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close(db) }()

			// Creating users does not sign anything.
			u, err := newAccounts(db, nil, cfg.Accounts).CreateUser(ctx, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d: %s\n", u.ID, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "password, defaults to $KINABALU_PASSWORD")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
