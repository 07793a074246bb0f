package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "config-test-secret-123"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadDefaultsFromMinimalFile(t *testing.T) {
	cfgPath := writeConfig(t, `
jwtSecret: "`+testSecret+`"
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" || cfg.PathPrefix != "/api" {
		t.Fatalf("unexpected defaults port=%q prefix=%q", cfg.Port, cfg.PathPrefix)
	}
	if cfg.KVBackend != KVBackendMemory || cfg.ObjectBackend != ObjectBackendMemory {
		t.Fatalf("unexpected backends kv=%q object=%q", cfg.KVBackend, cfg.ObjectBackend)
	}
	if cfg.AdminTokenTTL() != 24*time.Hour {
		t.Fatalf("adminTokenTTL = %v, want 24h", cfg.AdminTokenTTL())
	}
	if cfg.SignedURLExpiry() != 7*24*time.Hour {
		t.Fatalf("signedURLExpiry = %v, want 168h", cfg.SignedURLExpiry())
	}
	if cfg.MaxPDFBytes != 50<<20 || cfg.MaxCoverBytes != 2<<20 {
		t.Fatalf("unexpected upload limits pdf=%d cover=%d", cfg.MaxPDFBytes, cfg.MaxCoverBytes)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LIBRARY_PORT", "9090")
	t.Setenv("LIBRARY_PATH_PREFIX", "functions/v1/server/")
	t.Setenv("LIBRARY_KV_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LIBRARY_ADMIN_TOKEN_TTL_SECONDS", "60")
	t.Setenv("LIBRARY_MAX_PDF_BYTES", "1024")
	t.Setenv("LIBRARY_TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")
	t.Setenv("MINIO_USE_SSL", "true")

	cfgPath := writeConfig(t, `
port: "8081"
jwtSecret: "`+testSecret+`"
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.PathPrefix != "/functions/v1/server" {
		t.Fatalf("pathPrefix = %q", cfg.PathPrefix)
	}
	if cfg.KVBackend != KVBackendRedis {
		t.Fatalf("kvBackend = %q, want redis", cfg.KVBackend)
	}
	if cfg.AdminTokenTTL() != time.Minute {
		t.Fatalf("adminTokenTTL = %v, want 1m", cfg.AdminTokenTTL())
	}
	if cfg.MaxPDFBytes != 1024 {
		t.Fatalf("maxPDFBytes = %d, want 1024", cfg.MaxPDFBytes)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "127.0.0.1" {
		t.Fatalf("trustedProxies = %v", cfg.TrustedProxies)
	}
	if !cfg.MinioUseSSL {
		t.Fatalf("minioUseSSL = false, want true")
	}
}

func TestLoadUsesLibraryConfigEnv(t *testing.T) {
	cfgPath := writeConfig(t, `
port: "7000"
jwtSecret: "`+testSecret+`"
`)
	t.Setenv("LIBRARY_CONFIG", cfgPath)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "7000" {
		t.Fatalf("port = %q, want 7000", cfg.Port)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadRejectsBadEnvNumber(t *testing.T) {
	t.Setenv("LIBRARY_MAX_COVER_BYTES", "lots")
	cfgPath := writeConfig(t, `jwtSecret: "`+testSecret+`"`)
	if _, err := Load(cfgPath); err == nil || !strings.Contains(err.Error(), "LIBRARY_MAX_COVER_BYTES") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	base := Defaults()
	base.JWTSecret = testSecret
	if err := validateConfig(base); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*FileConfig)
	}{
		{"missing jwt secret", func(c *FileConfig) { c.JWTSecret = "" }},
		{"postgres without url", func(c *FileConfig) { c.KVBackend = KVBackendPostgres }},
		{"redis without addr", func(c *FileConfig) { c.KVBackend = KVBackendRedis }},
		{"unknown kv backend", func(c *FileConfig) { c.KVBackend = "etcd" }},
		{"minio without endpoint", func(c *FileConfig) { c.ObjectBackend = ObjectBackendMinio }},
		{"unknown object backend", func(c *FileConfig) { c.ObjectBackend = "s3fs" }},
		{"admin hash not hex", func(c *FileConfig) { c.AdminPasswordHash = "7777" }},
		{"zero pdf limit", func(c *FileConfig) { c.MaxPDFBytes = 0 }},
		{"negative rate limit", func(c *FileConfig) { c.SigninRateLimitPerMinute = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := validateConfig(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"/":      "",
		"api":    "/api",
		"/api/":  "/api",
		" /a/b ": "/a/b",
	}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
