package config

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

// TestConfigYAMLRoundTrip tests that YAML tags match the viper keys.
func TestConfigYAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.LabelsPath = "/test/labels.txt"
	cfg.Detector.FrameTimeoutMs = 100
	cfg.Server.MaxDataPerDayBytes = 1 << 30

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("yaml.Marshal() error: %v", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("yaml.Unmarshal() error: %v", err)
	}
	det, ok := raw["detector"].(map[string]interface{})
	if !ok {
		t.Fatalf("detector section missing: %v", raw)
	}
	if det["labels_path"] != "/test/labels.txt" {
		t.Errorf("labels_path = %v", det["labels_path"])
	}
	if det["frame_timeout_ms"] != 100 {
		t.Errorf("frame_timeout_ms = %v", det["frame_timeout_ms"])
	}

	var back Config
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("yaml.Unmarshal() into Config error: %v", err)
	}
	if back != cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, cfg)
	}
}

// TestConfigJSONFieldNames tests the JSON field names used by /models.
func TestConfigJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(DefaultConfig())
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}
	for _, key := range []string{"models_dir", "log_level", "detector", "output", "server", "gpu"} {
		if _, ok := result[key]; !ok {
			t.Errorf("missing JSON key %q", key)
		}
	}
	server := result["server"].(map[string]interface{})
	if server["pool_size"] != float64(1) {
		t.Errorf("server.pool_size = %v", server["pool_size"])
	}
}
