package config

import (
	"os"
	"testing"
	"time"
)

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "single", input: "http://es:9200", expected: []string{"http://es:9200"}},
		{name: "spaces and quotes", input: ` "10.0.0.0/8" , '127.0.0.1' ,`, expected: []string{"10.0.0.0/8", "127.0.0.1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitAndTrim(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("splitAndTrim() = %v, want %v", result, tt.expected)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("splitAndTrim()[%d] = %v, want %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_INVALID", "not_a_number")

	if got := getenvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getenvInt() = %v, want 42", got)
	}
	if got := getenvInt("TEST_INT_INVALID", 7); got != 7 {
		t.Errorf("getenvInt() = %v, want default 7", got)
	}
	if got := getenvInt("TEST_INT_MISSING", 3); got != 3 {
		t.Errorf("getenvInt() = %v, want default 3", got)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("BOOTGATE_DEPLOYMENT_ID", "movies-api-0")
	t.Setenv("BOOTGATE_ES_ADDRS", "http://es-1:9200, http://es-2:9200")
	t.Setenv("BOOTGATE_READINESS_TIMEOUT", "90s")
	t.Setenv("BOOTGATE_ALLOWED_CIDRS", "10.0.0.0/8,127.0.0.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DeploymentID != "movies-api-0" {
		t.Errorf("DeploymentID = %q", cfg.DeploymentID)
	}
	if len(cfg.ESAddresses) != 2 || cfg.ESAddresses[1] != "http://es-2:9200" {
		t.Errorf("ESAddresses = %v", cfg.ESAddresses)
	}
	if cfg.ReadinessTimeout != 90*time.Second {
		t.Errorf("ReadinessTimeout = %v", cfg.ReadinessTimeout)
	}
	if len(cfg.AllowedCIDRS) != 2 {
		t.Errorf("AllowedCIDRS = %v", cfg.AllowedCIDRS)
	}
	if cfg.ListenPort != ":8000" {
		t.Errorf("ListenPort = %q, want default", cfg.ListenPort)
	}
}

func TestLoadDefaultsDeploymentToHostname(t *testing.T) {
	t.Setenv("BOOTGATE_DEPLOYMENT_ID", "")
	host, err := os.Hostname()
	if err != nil {
		t.Skip("hostname unavailable")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DeploymentID != host {
		t.Errorf("DeploymentID = %q, want %q", cfg.DeploymentID, host)
	}
}

func TestLoadRejectsMissingRedisPassword(t *testing.T) {
	t.Setenv("BOOTGATE_DEPLOYMENT_ID", "d")
	t.Setenv("BOOTGATE_REDIS_PASSWORD_REQUIRED", "true")
	t.Setenv("BOOTGATE_REDIS_PASSWORD", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail without a redis password")
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{
		RedisUser:     "default",
		RedisPassword: "s3cret",
		ESPassword:    "changeme",
		PostgresDSN:   "postgres://app:pa55@db:5432/movies",
	}

	r := cfg.Redacted()
	if r.RedisPassword != redacted || r.RedisUser != redacted || r.ESPassword != redacted {
		t.Errorf("secrets not redacted: %+v", r)
	}
	if r.PostgresDSN != "postgres://app:"+redacted+"@db:5432/movies" {
		t.Errorf("PostgresDSN = %q", r.PostgresDSN)
	}
	if cfg.RedisPassword != "s3cret" {
		t.Error("Redacted() must not modify the receiver")
	}
	if got := redactDSN("host=db user=app password=pa55"); got != redacted {
		t.Errorf("redactDSN() = %q", got)
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{
			name:     "valid duration",
			key:      "TEST_DURATION",
			value:    "5s",
			def:      1 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "invalid duration uses default",
			key:      "TEST_DURATION_INVALID",
			value:    "invalid",
			def:      10 * time.Second,
			expected: 10 * time.Second,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_DURATION_MISSING",
			value:    "",
			def:      15 * time.Second,
			expected: 15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustDuration(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      bool
		expected bool
	}{
		{
			name:     "true value",
			key:      "TEST_BOOL",
			value:    "true",
			def:      false,
			expected: true,
		},
		{
			name:     "false value",
			key:      "TEST_BOOL_FALSE",
			value:    "false",
			def:      true,
			expected: false,
		},
		{
			name:     "invalid value uses default",
			key:      "TEST_BOOL_INVALID",
			value:    "invalid",
			def:      true,
			expected: true,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_BOOL_MISSING",
			value:    "",
			def:      false,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustBool(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustBool() = %v, want %v", result, tt.expected)
			}
		})
	}
}
