package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/lingolens/pkg/provider/ocr"
	"github.com/MrWong99/lingolens/pkg/provider/stt"
	"github.com/MrWong99/lingolens/pkg/provider/translate"
)

// ErrProviderNotRegistered is returned when no factory is registered under
// the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// catalog holds the factories of one provider kind.
type catalog[T any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

func newCatalog[T any](kind string) *catalog[T] {
	return &catalog[T]{kind: kind, factories: make(map[string]Factory[T])}
}

func (c *catalog[T]) register(name string, f Factory[T]) {
	c.mu.Lock()
	c.factories[name] = f
	c.mu.Unlock()
}

func (c *catalog[T]) create(entry ProviderEntry) (T, error) {
	c.mu.RLock()
	f, ok := c.factories[entry.Name]
	c.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, c.kind, entry.Name)
	}
	return f(entry)
}

func (c *catalog[T]) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.factories))
}

// Registry maps provider names from the config file to factories, one
// catalog per provider kind. Registering a name twice replaces the earlier
// factory. It is safe for concurrent use.
type Registry struct {
	stt       *catalog[stt.Recognizer]
	translate *catalog[translate.Translator]
	ocr       *catalog[ocr.Detector]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:       newCatalog[stt.Recognizer]("stt"),
		translate: newCatalog[translate.Translator]("translate"),
		ocr:       newCatalog[ocr.Detector]("ocr"),
	}
}

func (r *Registry) RegisterSTT(name string, f Factory[stt.Recognizer]) { r.stt.register(name, f) }

func (r *Registry) RegisterTranslate(name string, f Factory[translate.Translator]) {
	r.translate.register(name, f)
}

func (r *Registry) RegisterOCR(name string, f Factory[ocr.Detector]) { r.ocr.register(name, f) }

// CreateSTT builds the recognizer named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Recognizer, error) {
	return r.stt.create(entry)
}

// CreateTranslate builds the translator named by entry.Name.
func (r *Registry) CreateTranslate(entry ProviderEntry) (translate.Translator, error) {
	return r.translate.create(entry)
}

// CreateOCR builds the text detector named by entry.Name.
func (r *Registry) CreateOCR(entry ProviderEntry) (ocr.Detector, error) {
	return r.ocr.create(entry)
}

// Names returns the sorted provider names registered for kind ("stt",
// "translate" or "ocr"). An unknown kind has no names.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "stt":
		return r.stt.names()
	case "translate":
		return r.translate.names()
	case "ocr":
		return r.ocr.names()
	}
	return nil
}
