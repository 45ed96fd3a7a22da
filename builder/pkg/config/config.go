package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ErrInvalid wraps every configuration failure. It is returned before any
// database work starts.
var ErrInvalid = errors.New("invalid configuration")

const (
	EnvHost            = "PG_HOST"
	EnvPort            = "PG_PORT"
	EnvDatabase        = "PG_DB"
	EnvUser            = "PG_USER"
	EnvPassword        = "PG_PASSWORD"
	EnvRawSchema       = "PG_SCHEMA_RAW"
	EnvAnalyticsSchema = "PG_SCHEMA_ANALYTICS"
	EnvSSLMode         = "PG_SSLMODE"

	defaultSSLMode = "disable"
)

// identifierRe matches unquoted Postgres identifiers (max 63 bytes) after
// case folding.
var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PostgresConfig holds the connection and schema settings read from the
// environment.
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	RawSchema       string
	AnalyticsSchema string
	SSLMode         string
}

// LoadEnvFile loads variables from a dotenv file without overriding values
// that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: failed to load env file %s: %w", ErrInvalid, path, err)
	}
	return nil
}

// LoadPostgres reads PostgresConfig from the process environment.
func LoadPostgres() (PostgresConfig, error) {
	return LoadPostgresFrom(os.Getenv)
}

// LoadPostgresFrom reads PostgresConfig through getenv and validates it.
func LoadPostgresFrom(getenv func(string) string) (PostgresConfig, error) {
	var missing []string
	required := func(key string) string {
		v := getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := PostgresConfig{
		Host:            required(EnvHost),
		Database:        required(EnvDatabase),
		User:            required(EnvUser),
		Password:        required(EnvPassword),
		RawSchema:       required(EnvRawSchema),
		AnalyticsSchema: required(EnvAnalyticsSchema),
		SSLMode:         getenv(EnvSSLMode),
	}
	portStr := required(EnvPort)
	if len(missing) > 0 {
		return PostgresConfig{}, fmt.Errorf("%w: missing required environment variables: %v", ErrInvalid, missing)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return PostgresConfig{}, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalid, EnvPort, portStr)
	}
	cfg.Port = port
	if cfg.SSLMode == "" {
		cfg.SSLMode = defaultSSLMode
	}

	if err := cfg.Validate(); err != nil {
		return PostgresConfig{}, err
	}
	return cfg, nil
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalid)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalid, cfg.Port)
	}
	if cfg.Database == "" {
		return fmt.Errorf("%w: database is required", ErrInvalid)
	}
	if cfg.User == "" {
		return fmt.Errorf("%w: user is required", ErrInvalid)
	}
	// Schema names are folded to lower case the way Postgres folds unquoted
	// identifiers, since they are always quoted in generated SQL.
	cfg.RawSchema = strings.ToLower(cfg.RawSchema)
	cfg.AnalyticsSchema = strings.ToLower(cfg.AnalyticsSchema)
	if !identifierRe.MatchString(cfg.RawSchema) {
		return fmt.Errorf("%w: raw schema %q is not a valid identifier", ErrInvalid, cfg.RawSchema)
	}
	if !identifierRe.MatchString(cfg.AnalyticsSchema) {
		return fmt.Errorf("%w: analytics schema %q is not a valid identifier", ErrInvalid, cfg.AnalyticsSchema)
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = defaultSSLMode
	}
	return nil
}

// ConnString returns a postgres:// URL for the configuration.
func (cfg PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": []string{cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

// Addr returns host:port for log output.
func (cfg PostgresConfig) Addr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}
