package app

import (
	"context"
	"testing"

	"github.com/ragpal/ragpal/internal/config"
	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/vectorstore"
)

func TestQualifiedModelName(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		want     string
	}{
		{config.ProviderGemini, "gemini-2.5-flash", "googleai/gemini-2.5-flash"},
		{config.ProviderOllama, "llama3.2", "ollama/llama3.2"},
		{config.ProviderOpenAI, "gpt-4o-mini", "openai/gpt-4o-mini"},
		{"", "gemini-2.5-flash", "googleai/gemini-2.5-flash"},
	}
	for _, tt := range tests {
		cfg := &config.Config{Provider: tt.provider, ModelName: tt.model}
		if got := qualifiedModelName(cfg); got != tt.want {
			t.Errorf("qualifiedModelName(%q, %q) = %q, want %q", tt.provider, tt.model, got, tt.want)
		}
	}
}

func TestProvideStoreMemoryBackend(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.StoreMemory}

	store, pool, cleanup, err := provideStore(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("provideStore() error = %v", err)
	}
	defer cleanup()

	if _, ok := store.(*vectorstore.Memory); !ok {
		t.Errorf("store = %T, want *vectorstore.Memory", store)
	}
	if pool != nil {
		t.Error("memory backend returned a db pool")
	}
}

func TestSetupNilConfig(t *testing.T) {
	if _, err := Setup(context.Background(), nil, nil); err == nil {
		t.Error("Setup(nil config) succeeded")
	}
}
