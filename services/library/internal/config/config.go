package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/abdulaziz-uzb777/library-project/pkg/kv"
)

// ConfigPath is read when neither an explicit path nor LIBRARY_CONFIG is set.
const ConfigPath = "config.yaml"

const (
	KVBackendMemory   = "memory"
	KVBackendRedis    = "redis"
	KVBackendPostgres = "postgres"

	ObjectBackendMemory = "memory"
	ObjectBackendMinio  = "minio"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	PathPrefix     string   `yaml:"pathPrefix"`
	AnonKey        string   `yaml:"anonKey"`
	TrustedProxies []string `yaml:"trustedProxies"`

	KVBackend      string `yaml:"kvBackend"`
	DatabaseURL    string `yaml:"databaseURL"`
	KVTable        string `yaml:"kvTable"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	RedisKeyPrefix string `yaml:"redisKeyPrefix"`

	ObjectBackend       string `yaml:"objectBackend"`
	MinioEndpoint       string `yaml:"minioEndpoint"`
	MinioPublicEndpoint string `yaml:"minioPublicEndpoint"`
	MinioAccessKey      string `yaml:"minioAccessKey"`
	MinioSecretKey      string `yaml:"minioSecretKey"`
	MinioBucket         string `yaml:"minioBucket"`
	MinioUseSSL         bool   `yaml:"minioUseSSL"`

	JWTSecret             string `yaml:"jwtSecret"`
	JWTIssuer             string `yaml:"jwtIssuer"`
	JWTAudience           string `yaml:"jwtAudience"`
	AccessTokenTTLSeconds int    `yaml:"accessTokenTTLSeconds"`

	// AdminPasswordHash is the hex SHA-256 of the admin password. Empty
	// means the factory password.
	AdminPasswordHash      string `yaml:"adminPasswordHash"`
	AdminTokenTTLSeconds   int    `yaml:"adminTokenTTLSeconds"`
	SignedURLExpirySeconds int    `yaml:"signedURLExpirySeconds"`

	MaxPDFBytes   int64 `yaml:"maxPDFBytes"`
	MaxCoverBytes int64 `yaml:"maxCoverBytes"`

	// Requests per minute per client IP; 0 disables the limiter.
	SignupRateLimitPerMinute   int `yaml:"signupRateLimitPerMinute"`
	SigninRateLimitPerMinute   int `yaml:"signinRateLimitPerMinute"`
	FeedbackRateLimitPerMinute int `yaml:"feedbackRateLimitPerMinute"`
}

// Defaults returns the configuration used for unset fields.
func Defaults() FileConfig {
	return FileConfig{
		Port:                       "8080",
		LogLevel:                   "info",
		PathPrefix:                 "/api",
		KVBackend:                  KVBackendMemory,
		KVTable:                    "kv_store",
		RedisKeyPrefix:             "library:kv:",
		ObjectBackend:              ObjectBackendMemory,
		MinioBucket:                "library",
		AccessTokenTTLSeconds:      3600,
		AdminTokenTTLSeconds:       24 * 3600,
		SignedURLExpirySeconds:     7 * 24 * 3600,
		MaxPDFBytes:                50 << 20,
		MaxCoverBytes:              2 << 20,
		SignupRateLimitPerMinute:   10,
		SigninRateLimitPerMinute:   20,
		FeedbackRateLimitPerMinute: 5,
	}
}

// Load reads config from path, then LIBRARY_CONFIG, then ConfigPath. A
// missing file is an error only when the path was named explicitly. A .env
// file in the working directory is loaded first; variables already set in
// the environment win over it.
func Load(path string) (FileConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return FileConfig{}, fmt.Errorf("load .env: %w", err)
	}

	explicit := true
	if path == "" {
		path = os.Getenv("LIBRARY_CONFIG")
	}
	if path == "" {
		path = ConfigPath
		explicit = false
	}

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.PathPrefix = normalizePrefix(cfg.PathPrefix)
	cfg.KVBackend = strings.ToLower(strings.TrimSpace(cfg.KVBackend))
	cfg.ObjectBackend = strings.ToLower(strings.TrimSpace(cfg.ObjectBackend))
	cfg.AdminPasswordHash = strings.ToLower(strings.TrimSpace(cfg.AdminPasswordHash))
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	strs := []struct {
		env string
		dst *string
	}{
		{"LIBRARY_PORT", &cfg.Port},
		{"LIBRARY_LOG_LEVEL", &cfg.LogLevel},
		{"LIBRARY_PATH_PREFIX", &cfg.PathPrefix},
		{"LIBRARY_ANON_KEY", &cfg.AnonKey},
		{"LIBRARY_KV_BACKEND", &cfg.KVBackend},
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"LIBRARY_KV_TABLE", &cfg.KVTable},
		{"REDIS_ADDR", &cfg.RedisAddr},
		{"REDIS_PASSWORD", &cfg.RedisPassword},
		{"LIBRARY_REDIS_KEY_PREFIX", &cfg.RedisKeyPrefix},
		{"LIBRARY_OBJECT_BACKEND", &cfg.ObjectBackend},
		{"MINIO_ENDPOINT", &cfg.MinioEndpoint},
		{"MINIO_PUBLIC_ENDPOINT", &cfg.MinioPublicEndpoint},
		{"MINIO_ACCESS_KEY", &cfg.MinioAccessKey},
		{"MINIO_SECRET_KEY", &cfg.MinioSecretKey},
		{"MINIO_BUCKET", &cfg.MinioBucket},
		{"LIBRARY_JWT_SECRET", &cfg.JWTSecret},
		{"LIBRARY_JWT_ISSUER", &cfg.JWTIssuer},
		{"LIBRARY_JWT_AUDIENCE", &cfg.JWTAudience},
		{"LIBRARY_ADMIN_PASSWORD_HASH", &cfg.AdminPasswordHash},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: MINIO_USE_SSL: %w", err)
		}
		cfg.MinioUseSSL = b
	}
	if v := os.Getenv("LIBRARY_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"LIBRARY_ACCESS_TOKEN_TTL_SECONDS", &cfg.AccessTokenTTLSeconds},
		{"LIBRARY_ADMIN_TOKEN_TTL_SECONDS", &cfg.AdminTokenTTLSeconds},
		{"LIBRARY_SIGNED_URL_EXPIRY_SECONDS", &cfg.SignedURLExpirySeconds},
		{"LIBRARY_SIGNUP_RATE_LIMIT_PER_MINUTE", &cfg.SignupRateLimitPerMinute},
		{"LIBRARY_SIGNIN_RATE_LIMIT_PER_MINUTE", &cfg.SigninRateLimitPerMinute},
		{"LIBRARY_FEEDBACK_RATE_LIMIT_PER_MINUTE", &cfg.FeedbackRateLimitPerMinute},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", i.env, err)
		}
		*i.dst = n
	}

	int64s := []struct {
		env string
		dst *int64
	}{
		{"LIBRARY_MAX_PDF_BYTES", &cfg.MaxPDFBytes},
		{"LIBRARY_MAX_COVER_BYTES", &cfg.MaxCoverBytes},
	}
	for _, i := range int64s {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", i.env, err)
		}
		*i.dst = n
	}
	return nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or LIBRARY_PORT)")
	}
	if strings.ContainsAny(cfg.PathPrefix, " ?#") {
		return fmt.Errorf("config: invalid pathPrefix %q", cfg.PathPrefix)
	}
	switch cfg.KVBackend {
	case KVBackendMemory:
	case KVBackendRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for kvBackend redis (set in config.yaml or REDIS_ADDR)")
		}
	case KVBackendPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for kvBackend postgres (set in config.yaml or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown kvBackend %q", cfg.KVBackend)
	}
	switch cfg.ObjectBackend {
	case ObjectBackendMemory:
	case ObjectBackendMinio:
		if cfg.MinioEndpoint == "" {
			return errors.New("config: minioEndpoint is required for objectBackend minio (set in config.yaml or MINIO_ENDPOINT)")
		}
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioAccessKey and minioSecretKey are required for objectBackend minio")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required for objectBackend minio")
		}
	default:
		return fmt.Errorf("config: unknown objectBackend %q", cfg.ObjectBackend)
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 16 {
		return errors.New("config: jwtSecret of at least 16 characters is required (set in config.yaml or LIBRARY_JWT_SECRET)")
	}
	if cfg.AdminPasswordHash != "" {
		if b, err := hex.DecodeString(cfg.AdminPasswordHash); err != nil || len(b) != 32 {
			return errors.New("config: adminPasswordHash must be a hex SHA-256 digest (see libraryctl hash-password)")
		}
	}
	if cfg.AccessTokenTTLSeconds <= 0 || cfg.AdminTokenTTLSeconds <= 0 || cfg.SignedURLExpirySeconds <= 0 {
		return errors.New("config: token and signed URL lifetimes must be positive")
	}
	if cfg.MaxPDFBytes <= 0 || cfg.MaxCoverBytes <= 0 {
		return errors.New("config: maxPDFBytes and maxCoverBytes must be positive")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.SigninRateLimitPerMinute < 0 || cfg.FeedbackRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	return nil
}

func (c FileConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

func (c FileConfig) AdminTokenTTL() time.Duration {
	return time.Duration(c.AdminTokenTTLSeconds) * time.Second
}

func (c FileConfig) SignedURLExpiry() time.Duration {
	return time.Duration(c.SignedURLExpirySeconds) * time.Second
}

// KVOptions maps the record store settings onto kv.Options.
func (c FileConfig) KVOptions() kv.Options {
	return kv.Options{
		Backend:        c.KVBackend,
		DatabaseURL:    c.DatabaseURL,
		Table:          c.KVTable,
		RedisAddr:      c.RedisAddr,
		RedisPassword:  c.RedisPassword,
		RedisNamespace: c.RedisKeyPrefix,
	}
}

// normalizePrefix returns "" or a path starting with "/" and without a
// trailing slash.
func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
