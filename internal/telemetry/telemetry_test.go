package telemetry

import (
	"testing"

	"github.com/nugget/vendorbot/internal/config"
)

func TestInit_Disabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelemetryConfig
	}{
		{"disabled", config.TelemetryConfig{Enabled: false, Endpoint: "localhost:4317"}},
		{"no endpoint", config.TelemetryConfig{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Init(t.Context(), tt.cfg, nil)
			if err != nil {
				t.Fatalf("Init: %v", err)
			}
			if shutdown == nil {
				t.Fatal("shutdown is nil")
			}
			if err := shutdown(t.Context()); err != nil {
				t.Errorf("shutdown: %v", err)
			}
		})
	}
}
