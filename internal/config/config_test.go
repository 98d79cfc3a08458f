package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log_level: debug\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Listen.Port != 8080 {
		t.Errorf("listen.port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("database.driver = %q, want sqlite3", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		t.Error("database.dsn should default for sqlite drivers")
	}
	if cfg.Conversation.MaxMessages != 20 {
		t.Errorf("max_messages = %d, want 20", cfg.Conversation.MaxMessages)
	}
	if cfg.Conversation.HistoryLimit != 10 {
		t.Errorf("history_limit = %d, want 10", cfg.Conversation.HistoryLimit)
	}
	if got := cfg.Conversation.Retention(); got != 7*24*time.Hour {
		t.Errorf("retention = %v, want 168h", got)
	}
	if cfg.Agent.MaxToolCalls != 2 {
		t.Errorf("max_tool_calls = %d, want 2", cfg.Agent.MaxToolCalls)
	}
	if !cfg.Agent.ClearConfirmation() {
		t.Error("clear confirmation should default to enabled")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("LEDGERBOT_TEST_SECRET", "secret123")

	cfg, err := Load(writeConfig(t, "line:\n  channel_secret: ${LEDGERBOT_TEST_SECRET}\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LINE.ChannelSecret != "secret123" {
		t.Errorf("channel_secret = %q, want %q", cfg.LINE.ChannelSecret, "secret123")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	path := writeConfig(t, "anthropic:\n  api_key: ${LEDGERBOT_DOTENV_KEY}\n")
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envFile, []byte("LEDGERBOT_DOTENV_KEY=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("LEDGERBOT_DOTENV_KEY") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Anthropic.APIKey != "from-dotenv" {
		t.Errorf("api_key = %q, want %q", cfg.Anthropic.APIKey, "from-dotenv")
	}
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	t.Setenv("LEDGERBOT_DOTENV_KEY2", "from-env")
	path := writeConfig(t, "gemini:\n  api_key: ${LEDGERBOT_DOTENV_KEY2}\n")
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envFile, []byte("LEDGERBOT_DOTENV_KEY2=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gemini.APIKey != "from-env" {
		t.Errorf("api_key = %q, want %q", cfg.Gemini.APIKey, "from-env")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "database:\n  driver: oracle\n  dsn: x\n"},
		{"postgres without dsn", "database:\n  driver: postgres\n"},
		{"unknown backend", "conversation:\n  backend: redis\n"},
		{"mongo without uri", "conversation:\n  backend: mongo\n"},
		{"history over cap", "conversation:\n  max_messages: 4\n  history_limit: 8\n"},
		{"bad timezone", "agent:\n  timezone: Mars/Olympus\n"},
		{"bad provider", "models:\n  available:\n    - name: x\n      provider: openai\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Errorf("Load(%q) should fail", tt.yaml)
			}
		})
	}
}

func TestAgentConfig_ClearConfirmationExplicitFalse(t *testing.T) {
	cfg, err := Load(writeConfig(t, "agent:\n  require_clear_confirmation: false\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Agent.ClearConfirmation() {
		t.Error("explicit false should disable confirmation")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", a.Value.String())
	}
	b := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if b.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level should pass through unchanged")
	}
}
