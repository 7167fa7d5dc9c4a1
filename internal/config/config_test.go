package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.StoreDriver != StoreDriverSQLite {
		t.Fatalf("unexpected store driver %q", cfg.StoreDriver)
	}
	if cfg.StoreTimeout != defaultStoreTimeout {
		t.Fatalf("unexpected store timeout %s", cfg.StoreTimeout)
	}
	if cfg.BlobDriver != BlobDriverFilesystem {
		t.Fatalf("unexpected blob driver %q", cfg.BlobDriver)
	}
	if cfg.AdminConfigured() {
		t.Fatalf("expected admin to be unconfigured by default")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	testCases := []struct {
		name      string
		overrides map[string]any
		wantError string
	}{
		{
			name:      "unknown-store-driver",
			overrides: map[string]any{"store.driver": "memcached"},
			wantError: "unsupported store.driver",
		},
		{
			name:      "empty-redis-address",
			overrides: map[string]any{"store.driver": StoreDriverRedis, "redis.address": " "},
			wantError: "redis.address is required",
		},
		{
			name:      "non-positive-timeout",
			overrides: map[string]any{"store.timeout": time.Duration(0)},
			wantError: "store.timeout must be positive",
		},
		{
			name:      "oss-missing-bucket",
			overrides: map[string]any{"blob.driver": BlobDriverOSS, "oss.endpoint": "oss-cn-hangzhou.aliyuncs.com"},
			wantError: "oss.bucket is required",
		},
		{
			name: "oss-missing-keys",
			overrides: map[string]any{
				"blob.driver":  BlobDriverOSS,
				"oss.endpoint": "oss-cn-hangzhou.aliyuncs.com",
				"oss.bucket":   "gallery",
			},
			wantError: "oss.access_key_id",
		},
		{
			name:      "unknown-blob-driver",
			overrides: map[string]any{"blob.driver": "s3"},
			wantError: "unsupported blob.driver",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.overrides {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected error containing %q", testCase.wantError)
			}
			if !strings.Contains(err.Error(), testCase.wantError) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestAdminConfiguredAcceptsHash(t *testing.T) {
	cfg := AppConfig{AdminSecretHash: "$2a$10$abcdefghijklmnopqrstuv"}
	if !cfg.AdminConfigured() {
		t.Fatalf("expected hash-only configuration to count as configured")
	}
}
