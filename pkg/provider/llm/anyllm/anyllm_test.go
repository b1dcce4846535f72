package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/castvox/pkg/provider/llm"
)

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "llama3.2"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("ollama", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_OpenAI_MissingAPIKey relies on OPENAI_API_KEY being cleared.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name  string
		model string
		opts  []anyllmlib.Option
	}{
		{"ollama", "llama3.2", nil},
		{"OLLAMA", "llama3.2", nil},
		{"openai", "gpt-4o-mini", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"anthropic", "claude-3-5-haiku-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"llamacpp", "llama3", nil},
		{"llamafile", "llama3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.name, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("New(%q): unexpected error: %v", tt.name, err)
			}
			if p.Model() != tt.model {
				t.Errorf("Model() = %q, want %q", p.Model(), tt.model)
			}
		})
	}
}

func TestNew_NameNormalised(t *testing.T) {
	p, err := New(" Ollama ", "llama3.2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Name() = %q, want ollama", p.Name())
	}
}

func TestBackendsHaveFactories(t *testing.T) {
	if len(Backends) != len(factories) {
		t.Fatalf("Backends has %d entries, factories has %d", len(Backends), len(factories))
	}
	for _, name := range Backends {
		if _, ok := factories[name]; !ok {
			t.Errorf("backend %q has no factory", name)
		}
	}
}

func TestNewOllama(t *testing.T) {
	p, err := NewOllama("llama3.2", anyllmlib.WithBaseURL("http://127.0.0.1:11434"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a friendly stream co-host.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "what is a quine"}},
	})

	if params.Model != "llama3.2" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[1].ContentString(); got != "what is a quine" {
		t.Errorf("user content = %q", got)
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature and max tokens should be left unset")
	}
}

func TestBuildParams_Sampling(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   120,
	})
	if len(params.Messages) != 1 {
		t.Fatalf("expected 1 message without a system prompt, got %d", len(params.Messages))
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 120 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}
}

func TestComplete_NoMessages(t *testing.T) {
	p, err := NewOllama("llama3.2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Complete(t.Context(), llm.CompletionRequest{}); err == nil {
		t.Error("expected error for empty request")
	}
	if _, err := p.StreamCompletion(t.Context(), llm.CompletionRequest{}); err == nil {
		t.Error("expected stream error for empty request")
	}
}
