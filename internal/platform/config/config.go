package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 0
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 15 * time.Second
	defaultCommerceBaseURL     = "https://api.wizesale.com/v1"
	defaultCommerceTimeout     = 8 * time.Second
	defaultCommerceAttempts    = 3
	defaultSessionCookie       = "WIZESALE_SESSION"
	defaultStoreCookieTTL      = 12 * time.Hour
	defaultSessionIdleTTL      = 30 * time.Minute
	defaultSweepInterval       = time.Minute
	defaultStorageBackend      = BackendMemory
	defaultSnapshotTTL         = 30 * 24 * time.Hour
	defaultRedisKeyPrefix      = "storefront:"
	defaultFirestoreCollection = "storefrontSnapshots"
	defaultTenantCacheTTL      = time.Minute
	defaultSecurityEnvironment = "local"
	devSessionSigningKey       = "storefront-local-session-key"
)

// Storage backends accepted by STOREFRONT_STORAGE_BACKEND.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Commerce  CommerceConfig
	Session   SessionConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Firestore FirestoreConfig
	Events    EventsConfig
	Tenant    TenantConfig
	Catalog   CatalogConfig
	Security  SecurityConfig
}

// ServerConfig configures HTTP server parameters. WriteTimeout defaults to zero
// because the cart event stream is long lived.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// CommerceConfig points at the remote commerce API. An empty BaseURL selects
// the built-in fake catalog.
type CommerceConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
}

// SessionConfig controls the session and store cookies and the in-memory registry.
type SessionConfig struct {
	CookieName     string
	SigningKey     string
	Secure         bool
	StoreCookieTTL time.Duration
	IdleTTL        time.Duration
	SweepInterval  time.Duration
}

// StorageConfig selects where cart and favorites snapshots live.
type StorageConfig struct {
	Backend     string
	SnapshotTTL time.Duration
}

// RedisConfig stores connection parameters for the redis snapshot backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	Collection   string
}

// EventsConfig enables checkout event publishing when Topic is set.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// Enabled reports whether checkout events should be published.
func (c EventsConfig) Enabled() bool {
	return strings.TrimSpace(c.Topic) != ""
}

// TenantConfig tunes store resolution. FallbackSubdomain is used when the host
// carries no subdomain, e.g. localhost during development.
type TenantConfig struct {
	CacheTTL          time.Duration
	FallbackSubdomain string
}

// CatalogConfig points at an optional payment-method YAML override.
type CatalogConfig struct {
	PaymentMethodsPath string
}

// SecurityConfig groups deployment environment settings.
type SecurityConfig struct {
	Environment string
}

// IsProduction reports whether the deployment runs in production.
func (c SecurityConfig) IsProduction() bool {
	switch c.Environment {
	case "prod", "production":
		return true
	}
	return false
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take
// precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Lookup returns a key lookup that applies Load's precedence: explicit env map,
// then process environment, then the .env file. main uses it to configure the
// secret fetcher before Load runs.
func Lookup(opts ...Option) (func(string) (string, bool), error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// Load assembles the storefront configuration from defaults, the .env file,
// environment variables and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	if options.secret == nil {
		options.secret = SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}
	lookup, err := Lookup(opts...)
	if err != nil {
		return Config{}, err
	}

	environment := strings.ToLower(stringWithDefault(lookup, "STOREFRONT_SECURITY_ENVIRONMENT", defaultSecurityEnvironment))
	security := SecurityConfig{Environment: environment}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Commerce: CommerceConfig{
			BaseURL:     stringOrEmpty(lookup, "STOREFRONT_COMMERCE_BASE_URL", defaultCommerceBaseURL),
			Timeout:     durationWithDefault(lookup, "STOREFRONT_COMMERCE_TIMEOUT", defaultCommerceTimeout),
			MaxAttempts: intWithDefault(lookup, "STOREFRONT_COMMERCE_MAX_ATTEMPTS", defaultCommerceAttempts),
		},
		Session: SessionConfig{
			CookieName:     stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE_NAME", defaultSessionCookie),
			SigningKey:     stringWithDefault(lookup, "STOREFRONT_SESSION_SIGNING_KEY", ""),
			Secure:         boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", security.IsProduction()),
			StoreCookieTTL: durationWithDefault(lookup, "STOREFRONT_SESSION_STORE_COOKIE_TTL", defaultStoreCookieTTL),
			IdleTTL:        durationWithDefault(lookup, "STOREFRONT_SESSION_IDLE_TTL", defaultSessionIdleTTL),
			SweepInterval:  durationWithDefault(lookup, "STOREFRONT_SESSION_SWEEP_INTERVAL", defaultSweepInterval),
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(stringWithDefault(lookup, "STOREFRONT_STORAGE_BACKEND", defaultStorageBackend)),
			SnapshotTTL: durationWithDefault(lookup, "STOREFRONT_STORAGE_SNAPSHOT_TTL", defaultSnapshotTTL),
		},
		Redis: RedisConfig{
			Addr:      stringWithDefault(lookup, "STOREFRONT_REDIS_ADDR", ""),
			Password:  stringWithDefault(lookup, "STOREFRONT_REDIS_PASSWORD", ""),
			DB:        intWithDefault(lookup, "STOREFRONT_REDIS_DB", 0),
			KeyPrefix: stringWithDefault(lookup, "STOREFRONT_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "STOREFRONT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "STOREFRONT_FIRESTORE_EMULATOR_HOST", ""),
			Collection:   stringWithDefault(lookup, "STOREFRONT_FIRESTORE_COLLECTION", defaultFirestoreCollection),
		},
		Events: EventsConfig{
			ProjectID: stringWithDefault(lookup, "STOREFRONT_EVENTS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "STOREFRONT_EVENTS_TOPIC", ""),
		},
		Tenant: TenantConfig{
			CacheTTL:          durationWithDefault(lookup, "STOREFRONT_TENANT_CACHE_TTL", defaultTenantCacheTTL),
			FallbackSubdomain: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_TENANT_FALLBACK_SUBDOMAIN", "")),
		},
		Catalog: CatalogConfig{
			PaymentMethodsPath: stringWithDefault(lookup, "STOREFRONT_CATALOG_PAYMENT_METHODS_PATH", ""),
		},
		Security: security,
	}

	// Events share the Firestore project unless configured separately.
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Session.SigningKey,
		&cfg.Redis.Password,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if cfg.Session.SigningKey == "" && !cfg.Security.IsProduction() {
		cfg.Session.SigningKey = devSessionSigningKey
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Commerce.MaxAttempts < 1 {
		missing = append(missing, "Commerce.MaxAttempts")
	}
	if strings.TrimSpace(cfg.Session.CookieName) == "" {
		missing = append(missing, "Session.CookieName")
	}
	if cfg.Session.SigningKey == "" {
		missing = append(missing, "Session.SigningKey")
	}
	if cfg.Session.IdleTTL <= 0 {
		missing = append(missing, "Session.IdleTTL")
	}
	if cfg.Session.SweepInterval <= 0 {
		missing = append(missing, "Session.SweepInterval")
	}
	if cfg.Session.StoreCookieTTL <= 0 {
		missing = append(missing, "Session.StoreCookieTTL")
	}

	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
		if strings.TrimSpace(cfg.Firestore.Collection) == "" {
			missing = append(missing, "Firestore.Collection")
		}
	default:
		missing = append(missing, "Storage.Backend")
	}

	if cfg.Events.Enabled() && cfg.Events.ProjectID == "" {
		missing = append(missing, "Events.ProjectID")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// stringOrEmpty differs from stringWithDefault in that an explicitly empty
// value is kept, so STOREFRONT_COMMERCE_BASE_URL= selects the fake catalog.
func stringOrEmpty(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
