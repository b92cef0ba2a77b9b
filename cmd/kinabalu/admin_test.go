package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/n9te9/kinabalu/auth"
	"github.com/n9te9/kinabalu/catalog"
	"github.com/n9te9/kinabalu/config"
	"github.com/n9te9/kinabalu/store"
	"golang.org/x/crypto/bcrypt"
)

// run executes the CLI with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig points every store at a SQLite file under dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Catalog.Store = store.Config{Driver: store.DriverSQLite, DSN: filepath.Join(dir, "catalog.db"), AutoMigrate: true}
	cfg.Accounts.Store = store.Config{Driver: store.DriverSQLite, DSN: filepath.Join(dir, "accounts.db"), AutoMigrate: true}
	cfg.Accounts.BcryptCost = bcrypt.MinCost

	raw, err := config.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(dir, "kinabalu.yaml")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestInitCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kinabalu.yaml")

	out, err := run(t, "init", "-c", path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "wrote "+path) {
		t.Errorf("output = %q", out)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != config.Default().Gateway.Port {
		t.Errorf("gateway port = %d, want default", cfg.Gateway.Port)
	}

	if _, err := run(t, "init", "-c", path); err == nil || !strings.Contains(err.Error(), "--force") {
		t.Errorf("second init error = %v, want a refusal to overwrite", err)
	}
	if _, err := run(t, "init", "-c", path, "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestKeygenCmd(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	out, err := run(t, "keygen", "--dir", dir)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if !strings.Contains(out, "private.pem") || !strings.Contains(out, "public.pem") {
		t.Errorf("output = %q", out)
	}

	key, err := auth.LoadPrivateKey(filepath.Join(dir, "private.pem"))
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	pub, err := auth.LoadPublicKey(filepath.Join(dir, "public.pem"))
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	if !key.PublicKey.Equal(pub) {
		t.Error("public.pem does not belong to private.pem")
	}

	info, err := os.Stat(filepath.Join(dir, "private.pem"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("private.pem mode = %o, want 600", perm)
	}
}

func TestAddProductCmd(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{name: "added", args: []string{"--name", "Pen", "--price", "5"}, want: "product 1: Pen at 5.00"},
		{name: "second product", args: []string{"--name", "Ink", "--price", "7.5"}, want: "product 2: Ink at 7.50"},
		{name: "negative price", args: []string{"--name", "Refund", "--price", "-1"}, wantErr: "must not be negative"},
		{name: "missing price", args: []string{"--name", "Pen"}, wantErr: `required flag(s) "price" not set`},
		{name: "missing name", args: []string{"--price", "5"}, wantErr: `required flag(s) "name" not set`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"catalog", "add-product", "-c", path}, tt.args...)...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("add-product: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}

	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: filepath.Join(dir, "catalog.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = store.Close(db) }()
	products, err := catalog.NewService(db).Products(ctx)
	if err != nil {
		t.Fatalf("Products: %v", err)
	}
	if len(products) != 2 {
		t.Errorf("stored %d products, want 2", len(products))
	}
}

func TestCreateUserCmd(t *testing.T) {
	path := writeConfig(t, t.TempDir())

	t.Run("password flag", func(t *testing.T) {
		out, err := run(t, "accounts", "create-user", "-c", path, "--email", "ada@example.com", "--password", "hunter2")
		if err != nil {
			t.Fatalf("create-user: %v", err)
		}
		if !strings.Contains(out, "user 1: ada@example.com") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("password from environment", func(t *testing.T) {
		t.Setenv("KINABALU_PASSWORD", "hunter3")
		out, err := run(t, "accounts", "create-user", "-c", path, "--email", "bob@example.com")
		if err != nil {
			t.Fatalf("create-user: %v", err)
		}
		if !strings.Contains(out, "user 2: bob@example.com") {
			t.Errorf("output = %q", out)
		}
	})

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "duplicate email", args: []string{"--email", "ada@example.com", "--password", "x"}, wantErr: "already registered"},
		{name: "no password", args: []string{"--email", "eve@example.com"}, wantErr: "password is required"},
		{name: "missing email", args: []string{"--password", "x"}, wantErr: `required flag(s) "email" not set`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KINABALU_PASSWORD", "")
			_, err := run(t, append([]string{"accounts", "create-user", "-c", path}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
