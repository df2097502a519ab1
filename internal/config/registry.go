package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/rehearse/pkg/provider/stt"
	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

// ErrProviderNotRegistered means no factory exists under the entry's name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config block.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one provider kind's name-to-constructor table.
type factories[T any] struct {
	kind   string
	byName map[string]Factory[T]
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	build, ok := f.byName[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return build(entry)
}

// Registry resolves [ProviderEntry] names to constructors. Registering a
// name twice keeps the last factory. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: factories[stt.Provider]{kind: "stt", byName: map[string]Factory[stt.Provider]{}},
		tts: factories[tts.Provider]{kind: "tts", byName: map[string]Factory[tts.Provider]{}},
	}
}

func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.byName[name] = factory
}

func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byName[name] = factory
}

// CreateSTT runs the speech-to-text factory named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateTTS runs the text-to-speech factory named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// Names lists the registered provider names of kind ("stt" or "tts"),
// sorted. An unknown kind yields nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.stt.kind:
		return slices.Sorted(maps.Keys(r.stt.byName))
	case r.tts.kind:
		return slices.Sorted(maps.Keys(r.tts.byName))
	}
	return nil
}
