package drover

import (
	"strings"
	"testing"
	"time"
)

func TestParseConfig(t *testing.T) {
	data := []byte(`
max_agents: 10
dispatch_timeout: 30s
worker_binary: /usr/local/bin/drover
store_path: drover.db
agents:
  - name: coder
    role: developer
    capabilities: [Code, review, 42]
schedules:
  - name: nightly-report
    cron: "0 2 * * *"
    description: generate the nightly report
    priority: 3
    enabled: true
telegram:
  token: "123:abc"
  chat_id: 42
`)

	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig() returned error: %v", err)
	}

	if cfg.MaxAgents != 10 {
		t.Errorf("MaxAgents = %d, want 10", cfg.MaxAgents)
	}
	if got := cfg.ParsedDispatchTimeout(); got != 30*time.Second {
		t.Errorf("ParsedDispatchTimeout() = %v, want 30s", got)
	}
	if len(cfg.Agents) != 1 {
		t.Fatalf("Agents = %d, want 1", len(cfg.Agents))
	}

	// Non-string capability entries survive decoding for later normalization.
	caps := NormalizeCapabilities(cfg.Agents[0].Capabilities)
	want := []string{"code", "review", "42", "execute"}
	if len(caps) != len(want) {
		t.Fatalf("capabilities = %v, want %v", caps, want)
	}
	for i := range want {
		if caps[i] != want[i] {
			t.Errorf("capabilities[%d] = %q, want %q", i, caps[i], want[i])
		}
	}

	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Name != "nightly-report" {
		t.Errorf("Schedules = %+v", cfg.Schedules)
	}
	if cfg.Telegram.ChatID != 42 {
		t.Errorf("Telegram.ChatID = %d, want 42", cfg.Telegram.ChatID)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParseConfig() returned error: %v", err)
	}
	if cfg.MaxAgents != 100 {
		t.Errorf("default MaxAgents = %d, want 100", cfg.MaxAgents)
	}
	if got := cfg.ParsedDispatchTimeout(); got != 10*time.Second {
		t.Errorf("default dispatch timeout = %v, want 10s", got)
	}
	if cfg.WorkerBinary == "" {
		t.Error("default WorkerBinary should fall back to the current binary")
	}
}

func TestParseConfigInvalidTimeout(t *testing.T) {
	_, err := ParseConfig([]byte(`dispatch_timeout: soon`))
	if err == nil || !strings.Contains(err.Error(), "dispatch_timeout") {
		t.Errorf("error = %v, want invalid dispatch_timeout", err)
	}
}

func TestParseConfigNegativeMaxAgents(t *testing.T) {
	_, err := ParseConfig([]byte(`max_agents: -1`))
	if err == nil {
		t.Error("negative max_agents should be rejected")
	}
}

func TestParseConfigScheduleValidation(t *testing.T) {
	_, err := ParseConfig([]byte(`
schedules:
  - cron: "* * * * *"
`))
	if err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Errorf("error = %v, want missing schedule name", err)
	}

	_, err = ParseConfig([]byte(`
schedules:
  - name: broken
`))
	if err == nil || !strings.Contains(err.Error(), "cron expression is required") {
		t.Errorf("error = %v, want missing cron expression", err)
	}
}

func TestParseConfigBadYAML(t *testing.T) {
	_, err := ParseConfig([]byte("max_agents: [unclosed"))
	if err == nil {
		t.Error("malformed YAML should be rejected")
	}
}
