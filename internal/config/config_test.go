package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "smartbi.json", `{"server":{"address":":9090"},"runtime":{"data_dir":"state"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "state") {
		t.Fatalf("relative data dir not resolved: %s", cfg.Runtime.DataDir)
	}
	if cfg.LLM.Provider != DefaultProvider || cfg.LLM.Model != DefaultModel {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if cfg.LLM.Temperature != DefaultTemperature || cfg.LLM.MaxTokens != DefaultMaxTokens {
		t.Fatalf("unexpected generation defaults: %+v", cfg.LLM)
	}
	if cfg.LLM.OpenAI.BaseURL != DefaultGroqBaseURL || cfg.LLM.OpenAI.APIKeyEnv != "GROQ_API_KEY" {
		t.Fatalf("groq defaults not applied: %+v", cfg.LLM.OpenAI)
	}
	if cfg.Engine.ScriptTimeoutSeconds != 30 {
		t.Fatalf("unexpected script timeout: %d", cfg.Engine.ScriptTimeoutSeconds)
	}
	if cfg.Vision.Model != cfg.LLM.Model {
		t.Fatalf("vision model should default to llm model")
	}
	if cfg.TaskQueue.Workers != 1 {
		t.Fatalf("expected a single worker by default, got %d", cfg.TaskQueue.Workers)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "smartbi.yaml", `
llm:
  provider: ollama
  model: llama3.2
storage:
  driver: sqlite
engine:
  policy_file: policy.yaml
  max_steps: 5000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Model != "llama3.2" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Storage.DSN != filepath.Join(dir, "data", "smartbi.db") {
		t.Fatalf("sqlite dsn default not applied: %s", cfg.Storage.DSN)
	}
	if cfg.Engine.PolicyFile != filepath.Join(dir, "policy.yaml") {
		t.Fatalf("policy path not resolved: %s", cfg.Engine.PolicyFile)
	}
	if cfg.Engine.MaxSteps != 5000 {
		t.Fatalf("unexpected max steps: %d", cfg.Engine.MaxSteps)
	}
	if cfg.LLM.APIKey() != "" {
		t.Fatalf("ollama should not require an api key")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "smartbi.json", `{"llm":{"provider":"openai"}}`)

	t.Setenv("SMARTBI_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("SMARTBI_STORAGE_DRIVER", "mysql")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("model override ignored: %s", cfg.LLM.Model)
	}
	if cfg.Storage.Driver != "mysql" || cfg.Storage.TaskStore != "mysql" {
		t.Fatalf("storage override ignored: %+v", cfg.Storage)
	}
	if cfg.LLM.OpenAI.BaseURL != "" {
		t.Fatalf("openai provider should not use the groq base url")
	}
	if cfg.LLM.APIKey() != "sk-test" {
		t.Fatalf("api key not read from env: %q", cfg.LLM.APIKey())
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "SMARTBI_DOTENV_PROBE=loaded\n")
	t.Cleanup(func() { os.Unsetenv("SMARTBI_DOTENV_PROBE") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing files should be skipped: %v", err)
	}
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if os.Getenv("SMARTBI_DOTENV_PROBE") != "loaded" {
		t.Fatalf(".env value not exported")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.json", "{")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
