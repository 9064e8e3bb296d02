// Package vision - Backbone Registry fuer Encoder-Auswahl per Name.
//
// MODUL: registry
// ZWECK: Zentrale Registry fuer Backbone-Factories mit Thread-sicherer Verwaltung
// INPUT: Backbone-Name, BackboneFactory-Funktionen, Options
// OUTPUT: Backbone-Instanzen
// NEBENEFFEKTE: DefaultRegistry wird in init() befuellt
// ABHAENGIGKEITEN: sync (stdlib)
// HINWEISE: Thread-sicher durch RWMutex
package vision

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrBackboneNotRegistered wird zurueckgegeben wenn kein Backbone unter dem Namen existiert
var ErrBackboneNotRegistered = errors.New("vision: backbone nicht registriert")

// RegistryError beschreibt einen fehlgeschlagenen Registry-Zugriff
type RegistryError struct {
	Op   string
	Name string
	Err  error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("vision registry %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// BackboneFactory erstellt einen Backbone aus Options
type BackboneFactory func(opts Options) (Backbone, error)

// ============================================================================
// Registry
// ============================================================================

// Registry verwaltet Backbone-Factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]BackboneFactory
}

// NewRegistry erstellt eine leere Registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]BackboneFactory)}
}

// Register registriert eine Factory; existierende Eintraege werden ueberschrieben
func (r *Registry) Register(name string, factory BackboneFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
}

// Has prueft ob ein Backbone registriert ist
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[name]
	return ok
}

// List gibt die registrierten Namen sortiert zurueck
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create erstellt einen Backbone mit der registrierten Factory
func (r *Registry) Create(name string, opts Options) (Backbone, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &RegistryError{Op: "create", Name: name, Err: ErrBackboneNotRegistered}
	}

	b, err := factory(opts)
	if err != nil {
		return nil, &RegistryError{Op: "create", Name: name, Err: err}
	}
	return b, nil
}

// ============================================================================
// Globale Registry
// ============================================================================

// DefaultRegistry enthaelt die eingebauten Backbones "pool" und "stats"
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.Register("pool", func(opts Options) (Backbone, error) {
		return NewPoolBackbone(opts)
	})
	DefaultRegistry.Register("stats", func(opts Options) (Backbone, error) {
		return NewStatsBackbone(opts)
	})
}

// Create erstellt einen Backbone aus der DefaultRegistry
func Create(name string, opts Options) (Backbone, error) {
	return DefaultRegistry.Create(name, opts)
}
