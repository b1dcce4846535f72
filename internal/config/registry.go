package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/castvox/pkg/provider/llm"
	"github.com/MrWong99/castvox/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Provider kinds accepted by [Registry.Names].
const (
	KindLLM = "llm"
	KindTTS = "tts"
)

// Factory builds a provider of type P from its configuration entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factoryTable holds the factories of one provider kind.
type factoryTable[P any] struct {
	kind   string
	byName map[string]Factory[P]
}

func newFactoryTable[P any](kind string) factoryTable[P] {
	return factoryTable[P]{kind: kind, byName: make(map[string]Factory[P])}
}

func (t factoryTable[P]) lookup(name string) (Factory[P], error) {
	f, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, t.kind, name)
	}
	return f, nil
}

// Registry maps provider names to their factories, one table per provider
// kind. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factoryTable[llm.Provider]
	tts factoryTable[tts.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactoryTable[llm.Provider](KindLLM),
		tts: newFactoryTable[tts.Provider](KindTTS),
	}
}

// RegisterLLM registers an LLM factory under name, replacing any previous
// registration.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.byName[name] = f
}

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byName[name] = f
}

// CreateLLM builds the LLM provider named by entry.Name. It wraps
// [ErrProviderNotRegistered] when the name is unknown.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, err := r.llm.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateTTS builds the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	f, err := r.tts.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// Names returns the sorted provider names registered for kind ([KindLLM] or
// [KindTTS]). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindLLM:
		return slices.Sorted(maps.Keys(r.llm.byName))
	case KindTTS:
		return slices.Sorted(maps.Keys(r.tts.byName))
	default:
		return nil
	}
}
