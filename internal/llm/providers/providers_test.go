package providers

import (
	"context"
	"testing"

	"SmartBI-Agent/internal/config"
)

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr bool
	}{
		{name: "groq", cfg: config.LLMConfig{Provider: "groq", Model: "m", OpenAI: config.OpenAIConfig{APIKey: "k"}}},
		{name: "ollama", cfg: config.LLMConfig{Provider: "ollama", Model: "llama3", Ollama: config.OllamaConfig{Host: "http://localhost:11434"}}},
		{name: "anthropic", cfg: config.LLMConfig{Provider: "anthropic", Anthropic: config.AnthropicConfig{APIKey: "k"}}},
		{name: "missing key", cfg: config.LLMConfig{Provider: "openai", Model: "m", OpenAI: config.OpenAIConfig{APIKeyEnv: "SMARTBI_TEST_UNSET_KEY"}}, wantErr: true},
		{name: "unknown", cfg: config.LLMConfig{Provider: "nope"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(context.Background(), tt.cfg, nil, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client == nil {
				t.Fatalf("expected client")
			}
		})
	}
}
