package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{
		"name": "earshot",
		"enabled": true,
		"character": "Nova",
		"whitelist": ["!room1:example.com", "!room2:example.com"],
		"matrix": {"homeserver": "http://synapse:8008", "user_id": "earshot", "password": "$EARSHOT_TEST_PW"},
		"classifier": {"provider": "anthropic", "model": "claude-3-5-haiku-latest", "api_key": "k1"},
		"engine": {"provider": "anthropic", "model": "claude-sonnet-4-5", "api_key": "k2"},
		"store": {"driver": "sqlite", "data_dir": "/data"}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EARSHOT_TEST_PW", "secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Character != "Nova" {
		t.Errorf("Character = %q", cfg.Character)
	}
	if len(cfg.Whitelist) != 2 {
		t.Errorf("Whitelist = %v", cfg.Whitelist)
	}
	if cfg.Matrix.Password != "secret" {
		t.Errorf("Password = %q, env reference not resolved", cfg.Matrix.Password)
	}
	if cfg.Classifier.APIKey != "k1" || cfg.Engine.APIKey != "k2" {
		t.Errorf("api keys = %q, %q", cfg.Classifier.APIKey, cfg.Engine.APIKey)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfigDefaultCharacter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"enabled": true}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Character != "Bot" {
		t.Errorf("Character = %q, want Bot", cfg.Character)
	}
}

func TestClassifierSystemPrompt(t *testing.T) {
	cfg := &Config{Character: "Nova"}
	got := cfg.ClassifierSystemPrompt()
	if !strings.Contains(got, "'Nova'") {
		t.Errorf("character not substituted:\n%s", got)
	}
	if strings.Contains(got, "{character}") {
		t.Errorf("placeholder left in prompt:\n%s", got)
	}
}

func TestEngineSystemPromptOverride(t *testing.T) {
	cfg := &Config{Character: "Nova", EnginePrompt: "You are {character}."}
	if got := cfg.EngineSystemPrompt(); got != "You are Nova." {
		t.Errorf("EngineSystemPrompt = %q", got)
	}
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("EARSHOT_TEST_VAL", "resolved")

	if got := resolveEnv("$EARSHOT_TEST_VAL"); got != "resolved" {
		t.Errorf("resolveEnv = %q", got)
	}
	if got := resolveEnv("plain"); got != "plain" {
		t.Errorf("resolveEnv = %q, want passthrough", got)
	}
	if got := resolveEnv("$EARSHOT_UNSET_VAR"); got != "$EARSHOT_UNSET_VAR" {
		t.Errorf("resolveEnv = %q, want literal when unset", got)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList("!a:x.com, !b:x.com ,,")
	if len(got) != 2 || got[0] != "!a:x.com" || got[1] != "!b:x.com" {
		t.Errorf("splitList = %v", got)
	}
	if splitList("") != nil {
		t.Error("splitList(\"\") should be nil")
	}
}
