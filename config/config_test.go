package config

import "testing"

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - api",
			input:    "api",
			expected: map[ServiceMode]bool{ServiceModeAPI: true},
		},
		{
			name:     "single service - scheduler",
			input:    "scheduler",
			expected: map[ServiceMode]bool{ServiceModeScheduler: true},
		},
		{
			name:  "multiple services - api and ui",
			input: "api,ui",
			expected: map[ServiceMode]bool{
				ServiceModeAPI: true,
				ServiceModeUI:  true,
			},
		},
		{
			name:  "all services",
			input: "api,scheduler,ui",
			expected: map[ServiceMode]bool{
				ServiceModeAPI:       true,
				ServiceModeScheduler: true,
				ServiceModeUI:        true,
			},
		},
		{
			name:  "services with spaces",
			input: " api , scheduler , ui ",
			expected: map[ServiceMode]bool{
				ServiceModeAPI:       true,
				ServiceModeScheduler: true,
				ServiceModeUI:        true,
			},
		},
		{
			name:  "duplicate services",
			input: "api,api,scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeAPI:       true,
				ServiceModeScheduler: true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "api,invalid-service",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestServicesConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name              string
		services          string
		expectedAPI       bool
		expectedScheduler bool
		expectedUI        bool
	}{
		{
			name:        "api only",
			services:    "api",
			expectedAPI: true,
		},
		{
			name:              "api and scheduler",
			services:          "api,scheduler",
			expectedAPI:       true,
			expectedScheduler: true,
		},
		{
			name:              "all services",
			services:          "api,scheduler,ui",
			expectedAPI:       true,
			expectedScheduler: true,
			expectedUI:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ServicesConfig{Services: tt.services}

			if cfg.IsAPIEnabled() != tt.expectedAPI {
				t.Errorf("IsAPIEnabled(): expected %v, got %v", tt.expectedAPI, cfg.IsAPIEnabled())
			}
			if cfg.IsSchedulerEnabled() != tt.expectedScheduler {
				t.Errorf("IsSchedulerEnabled(): expected %v, got %v", tt.expectedScheduler, cfg.IsSchedulerEnabled())
			}
			if cfg.IsUIEnabled() != tt.expectedUI {
				t.Errorf("IsUIEnabled(): expected %v, got %v", tt.expectedUI, cfg.IsUIEnabled())
			}
		})
	}
}

func TestServicesConfig_InvalidConfig(t *testing.T) {
	cfg := ServicesConfig{Services: "invalid-service"}

	if cfg.IsAPIEnabled() {
		t.Error("IsAPIEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsSchedulerEnabled() {
		t.Error("IsSchedulerEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsUIEnabled() {
		t.Error("IsUIEnabled() with invalid config: expected false, got true")
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{ServiceModeAPI, ServiceModeScheduler, ServiceModeUI}

	if len(modes) != len(expected) {
		t.Fatalf("expected %d service modes, got %d", len(expected), len(modes))
	}
	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " "}
	cfg.Sanitize()
	if cfg.Enabled {
		t.Fatal("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " statsd:1234 "}
	cfg.Sanitize()
	if !cfg.IsEnabled() {
		t.Fatal("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		WebhookURL: " ",
	}
	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Enabled {
		t.Fatal("expected notifications to be disabled without a webhook url")
	}

	cfg = ObservabilityNotificationsConfig{Enabled: false, WebhookURL: "https://example.com/hook"}
	cfg.Sanitize()
	if cfg.Enabled {
		t.Fatal("expected notifications to remain disabled when not explicitly enabled")
	}
}
