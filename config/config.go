package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/n9te9/kinabalu/gateway"
	"github.com/n9te9/kinabalu/store"
)

// DefaultPath is where the CLI looks for the configuration file.
const DefaultPath = "kinabalu.yaml"

// Config is the configuration of every Kinabalu process. Each command reads the
// section it serves.
type Config struct {
	Log      LogSetting            `yaml:"log"`
	Gateway  gateway.GatewayOption `yaml:"gateway"`
	Catalog  CatalogSetting        `yaml:"catalog"`
	Checkout CheckoutSetting       `yaml:"checkout"`
	Accounts AccountsSetting       `yaml:"accounts"`
}

type LogSetting struct {
	Level string `yaml:"level"`
}

// ServiceSetting is what every subgraph process needs to serve.
type ServiceSetting struct {
	Port          int                          `yaml:"port"`
	Path          string                       `yaml:"path"`
	Store         store.Config                 `yaml:"store"`
	Opentelemetry gateway.OpentelemetrySetting `yaml:"opentelemetry"`
}

type CatalogSetting struct {
	ServiceSetting `yaml:",inline"`
}

type CheckoutSetting struct {
	ServiceSetting `yaml:",inline"`
	// CatalogEndpoint is called directly for prices, not through the gateway.
	CatalogEndpoint string `yaml:"catalog_endpoint"`
	CatalogTimeout  string `yaml:"catalog_timeout"`
}

type AccountsSetting struct {
	ServiceSetting `yaml:",inline"`
	PrivateKeyFile string   `yaml:"private_key_file"`
	KeyID          string   `yaml:"key_id"`
	Audience       string   `yaml:"audience"`
	Issuer         string   `yaml:"issuer"`
	TokenTTL       string   `yaml:"token_ttl"`
	Roles          []string `yaml:"roles"`
	BcryptCost     int      `yaml:"bcrypt_cost"`
}

// Default returns a configuration that runs the whole graph on localhost with
// SQLite files.
func Default() Config {
	return Config{
		Log: LogSetting{Level: "info"},
		Gateway: gateway.GatewayOption{
			Endpoint:                    "/graphql",
			ServiceName:                 "kinabalu-gateway",
			Port:                        3000,
			TimeoutDuration:             "5s",
			EnableHangOverRequestHeader: true,
			EnableComplementRequestId:   true,
			Services: []gateway.GatewayService{
				{Name: "catalog", Host: "http://localhost:4000/query"},
				{Name: "checkout", Host: "http://localhost:4001/query"},
				{Name: "accounts", Host: "http://localhost:4002/query"},
			},
			Retry: gateway.RetryOption{Attempts: 3, Timeout: "5s", Interval: "1s"},
			Auth: gateway.AuthSetting{
				PublicKeyFile: "keys/public.pem",
				Audience:      "KinabaluAudience",
				Issuer:        "KinabaluIssuer",
				Leeway:        "0s",
			},
		},
		Catalog: CatalogSetting{ServiceSetting: ServiceSetting{
			Port:  4000,
			Path:  "/query",
			Store: store.Config{Driver: store.DriverSQLite, DSN: "catalog.db", AutoMigrate: true},
		}},
		Checkout: CheckoutSetting{
			ServiceSetting: ServiceSetting{
				Port:  4001,
				Path:  "/query",
				Store: store.Config{Driver: store.DriverSQLite, DSN: "checkout.db", AutoMigrate: true},
			},
			CatalogEndpoint: "http://localhost:4000/query",
			CatalogTimeout:  "5s",
		},
		Accounts: AccountsSetting{
			ServiceSetting: ServiceSetting{
				Port:  4002,
				Path:  "/query",
				Store: store.Config{Driver: store.DriverSQLite, DSN: "accounts.db", AutoMigrate: true},
			},
			PrivateKeyFile: "keys/private.pem",
			KeyID:          "kinabalu-1",
			Audience:       "KinabaluAudience",
			Issuer:         "KinabaluIssuer",
			TokenTTL:       "168h",
			Roles:          []string{"superuser", "cool"},
			BcryptCost:     10,
		},
	}
}

// Load reads path over Default. ${VAR} references are expanded from the
// environment before parsing.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Parse(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment references in raw and decodes it into cfg. Keys
// missing from raw keep the value already in cfg.
func Parse(raw []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(raw))
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// SlogLevel maps the configured level name onto slog. Unknown names are info.
func (l LogSetting) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
