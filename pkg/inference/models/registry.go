package models

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/logging"
	"github.com/shimmy-run/shimmy/pkg/metrics"
)

// LoadedModel is a live handle to an initialized backend, exclusively owned
// by the registry's cache and shared by reference to any number of
// in-flight requests. It cannot be evicted while any request references it.
type LoadedModel struct {
	Name    string
	Spec    inference.ModelSpec
	Handle  inference.Handle
	backend inference.Backend

	refCount      int32
	pendingUnload int32 // 0 or 1, set by Unload when refs are still held

	// genMu serializes Generate calls when the backend does not declare
	// itself re-entrant safe.
	genMu sync.Mutex
}

// Generate drives one generation call against the loaded model, serializing
// it behind genMu unless the backend declares re-entrant safety.
func (m *LoadedModel) Generate(ctx context.Context, prompt string, options inference.GenerationOptions, stopStrings []string, emit inference.EmitFunc) (inference.StopReason, error) {
	if !m.backend.ReentrantSafe() {
		m.genMu.Lock()
		defer m.genMu.Unlock()
	}
	return m.backend.Generate(ctx, m.Handle, prompt, options, stopStrings, emit)
}

// acquire increments the reference count and returns the model for use by
// one more in-flight request.
func (m *LoadedModel) acquire() *LoadedModel {
	atomic.AddInt32(&m.refCount, 1)
	return m
}

// release decrements the reference count, returning true if the model
// should now be torn down (its pendingUnload flag was set and this was the
// last reference).
func (m *LoadedModel) release() bool {
	n := atomic.AddInt32(&m.refCount, -1)
	return n == 0 && atomic.LoadInt32(&m.pendingUnload) == 1
}

// Status is one row of registry introspection output.
type Status struct {
	Name     string
	Loaded   bool
	RefCount int
}

// Option configures a Registry.
type Option func(*registryOptions)

type registryOptions struct {
	logger logging.Logger
}

// WithLogger sets the logger used by the registry.
func WithLogger(l logging.Logger) Option {
	return func(o *registryOptions) { o.logger = l }
}

// Registry is the name→spec mapping plus a cache of currently loaded
// models. The registry is the single writer over its own state; reads
// proceed concurrently with other reads and with in-flight loads.
type Registry struct {
	mu           sync.RWMutex
	specs        map[string]inference.ModelSpec
	manualOrder  []string // insertion order of manually-registered names
	discoveredNames map[string]bool

	loaded map[string]*LoadedModel

	backends map[inference.BackendKind]inference.Backend
	group    singleflight.Group

	log     logging.Logger
	tracker *metrics.Tracker
}

// NewRegistry constructs an empty Registry. backends maps each BackendKind
// a ModelSpec may declare to the adapter implementation that serves it.
func NewRegistry(backends map[inference.BackendKind]inference.Backend, opts ...Option) *Registry {
	options := &registryOptions{logger: logging.NewDiscardLogger()}
	for _, opt := range opts {
		opt(options)
	}
	return &Registry{
		specs:           make(map[string]inference.ModelSpec),
		discoveredNames: make(map[string]bool),
		loaded:          make(map[string]*LoadedModel),
		backends:        backends,
		log:             options.logger,
	}
}

// SetTracker wires a metrics.Tracker into the registry so Load/Unload/
// Shutdown report load duration and the models-loaded gauge. Passing nil
// (the default) disables metrics recording.
func (r *Registry) SetTracker(t *metrics.Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracker = t
}

// reportModelsLoaded updates the models-loaded gauge, if a tracker is set.
// Callers must hold at least a read lock on r.mu.
func (r *Registry) reportModelsLoaded() {
	if r.tracker != nil {
		r.tracker.SetModelsLoaded(len(r.loaded))
	}
}

// Register inserts or replaces spec under its own name. allowOverwrite
// governs whether re-registering an existing name is permitted; when false
// and the name is already present, Register fails with ErrorInvalidRequest
// (DuplicateName).
func (r *Registry) Register(spec inference.ModelSpec, allowOverwrite bool) error {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Name]; exists && !allowOverwrite {
		return inference.NewError(inference.ErrorInvalidRequest, fmt.Sprintf("duplicate model name: %s", spec.Name))
	}
	if _, exists := r.specs[spec.Name]; !exists || r.discoveredNames[spec.Name] {
		r.manualOrder = append(r.manualOrder, spec.Name)
	}
	r.specs[spec.Name] = spec
	delete(r.discoveredNames, spec.Name)
	return nil
}

// Get looks up a spec by name.
func (r *Registry) Get(name string) (inference.ModelSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List enumerates registered names in a stable order: manually registered
// names in insertion order, followed by discovered names sorted
// lexicographically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.specs))
	seen := make(map[string]bool, len(r.specs))
	for _, name := range r.manualOrder {
		if _, ok := r.specs[name]; ok && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	var discovered []string
	for name := range r.discoveredNames {
		if !seen[name] {
			discovered = append(discovered, name)
		}
	}
	sort.Strings(discovered)
	out = append(out, discovered...)
	return out
}

// AutoRegisterDiscovered runs scanner, converts each DiscoveredModel into a
// ModelSpec with its inferred template and the default context length, and
// registers only those whose name is not already present. It never
// overwrites a manually configured entry with a discovered one.
func (r *Registry) AutoRegisterDiscovered(scanner *Scanner) (int, error) {
	found, err := scanner.Scan()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, dm := range found {
		if _, exists := r.specs[dm.NameHint]; exists {
			continue
		}
		spec := inference.ModelSpec{
			Name:    dm.NameHint,
			Backend: dm.Backend,
			LocalGGUF: &inference.LocalGGUFVariant{
				BasePath:    dm.BasePath,
				AdapterPath: dm.AdapterPath,
			},
			TemplateFamily: dm.TemplateFamily,
			ContextLength:  inference.DefaultContextLength,
		}
		r.specs[spec.Name] = spec
		r.discoveredNames[spec.Name] = true
		registered++
	}
	return registered, nil
}

// Load returns the LoadedModel for name, loading it if necessary.
// Concurrent callers for the same not-yet-loaded name coalesce to a single
// backend load: exactly one Backend.Load call is made and every caller
// receives the same *LoadedModel, each holding its own reference.
func (r *Registry) Load(ctx context.Context, name string) (*LoadedModel, error) {
	r.mu.RLock()
	if lm, ok := r.loaded[name]; ok {
		r.mu.RUnlock()
		return lm.acquire(), nil
	}
	spec, ok := r.specs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, inference.NewError(inference.ErrorModelNotFound, fmt.Sprintf("model not found: %s", name))
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		// Re-check under the write lock in case another goroutine's load
		// completed while this one was waiting to enter singleflight.
		r.mu.Lock()
		if lm, ok := r.loaded[name]; ok {
			r.mu.Unlock()
			return lm, nil
		}
		r.mu.Unlock()

		backend, ok := r.backends[spec.Backend]
		if !ok {
			return nil, inference.NewError(inference.ErrorBackendUnavailable, fmt.Sprintf("no backend registered for kind %s", spec.Backend))
		}

		started := time.Now()
		handle, loadErr := backend.Load(ctx, spec)
		if loadErr != nil {
			return nil, inference.Wrap(inference.ErrorBackendUnavailable, fmt.Sprintf("loading model %s", name), loadErr)
		}

		lm := &LoadedModel{Name: name, Spec: spec, Handle: handle, backend: backend, refCount: 0}

		r.mu.Lock()
		r.loaded[name] = lm
		if r.tracker != nil {
			r.tracker.ObserveLoad(name, time.Since(started).Seconds())
		}
		r.reportModelsLoaded()
		r.mu.Unlock()

		return lm, nil
	})
	if err != nil {
		return nil, err
	}

	lm := v.(*LoadedModel)
	return lm.acquire(), nil
}

// Unload evicts name if it is loaded and unreferenced. If references are
// still held, the model is marked for eviction and released when the last
// reference drops. Unload on a name that is not loaded is a no-op.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	lm, ok := r.loaded[name]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.loaded, name)
	r.reportModelsLoaded()
	r.mu.Unlock()

	if atomic.LoadInt32(&lm.refCount) == 0 {
		return lm.backend.Release(lm.Handle)
	}
	atomic.StoreInt32(&lm.pendingUnload, 1)
	return nil
}

// Release gives back a reference previously obtained from Load. When the
// model has been marked for eviction and this was the last outstanding
// reference, the backend handle is released.
func (r *Registry) Release(lm *LoadedModel) error {
	if lm.release() {
		return lm.backend.Release(lm.Handle)
	}
	return nil
}

// Status reports the loaded/ref-count state of every registered name.
func (r *Registry) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.specs))
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lm, loaded := r.loaded[name]
		st := Status{Name: name, Loaded: loaded}
		if loaded {
			st.RefCount = int(atomic.LoadInt32(&lm.refCount))
		}
		out = append(out, st)
	}
	return out
}

// Shutdown tears down every loaded model, regardless of outstanding
// references — callers must have already drained in-flight requests.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	loaded := r.loaded
	r.loaded = make(map[string]*LoadedModel)
	r.reportModelsLoaded()
	r.mu.Unlock()

	for _, lm := range loaded {
		if err := lm.backend.Release(lm.Handle); err != nil {
			r.log.WithError(err).Warn("failed to release model during shutdown")
		}
	}
}
