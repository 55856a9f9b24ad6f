package models_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/models"
)

// countingBackend records how many times Load and Release are invoked,
// returning a distinct handle value per Load call so coalescing can be
// observed.
type countingBackend struct {
	loadCalls    int32
	releaseCalls int32
	handles      sync.Map
}

type fakeHandle struct{ id int32 }

func (fakeHandle) Close() error { return nil }

func (b *countingBackend) Load(_ context.Context, spec inference.ModelSpec) (inference.Handle, error) {
	n := atomic.AddInt32(&b.loadCalls, 1)
	h := fakeHandle{id: n}
	b.handles.Store(spec.Name, h)
	return h, nil
}

func (b *countingBackend) Generate(_ context.Context, _ inference.Handle, _ string, _ inference.GenerationOptions, _ []string, _ inference.EmitFunc) (inference.StopReason, error) {
	return inference.StopNatural, nil
}

func (b *countingBackend) Release(inference.Handle) error {
	atomic.AddInt32(&b.releaseCalls, 1)
	return nil
}
func (b *countingBackend) ReentrantSafe() bool            { return true }

func newTestRegistry(backend inference.Backend) *models.Registry {
	return models.NewRegistry(map[inference.BackendKind]inference.Backend{
		inference.BackendLocalGGUF: backend,
	})
}

func testSpec(name string) inference.ModelSpec {
	return inference.ModelSpec{
		Name:           name,
		Backend:        inference.BackendLocalGGUF,
		LocalGGUF:      &inference.LocalGGUFVariant{BasePath: "/models/" + name + ".gguf"},
		TemplateFamily: inference.TemplateChatML,
		ContextLength:  4096,
	}
}

func TestRegistryGetAfterRegister(t *testing.T) {
	r := newTestRegistry(&countingBackend{})
	require.NoError(t, r.Register(testSpec("tiny"), false))

	spec, ok := r.Get("tiny")
	require.True(t, ok)
	require.Equal(t, "tiny", spec.Name)

	require.Equal(t, []string{"tiny"}, r.List())
}

func TestRegistryDuplicateNameRejected(t *testing.T) {
	r := newTestRegistry(&countingBackend{})
	require.NoError(t, r.Register(testSpec("tiny"), false))
	err := r.Register(testSpec("tiny"), false)
	require.Error(t, err)
	var ierr *inference.Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, inference.ErrorInvalidRequest, ierr.Kind)
}

func TestRegistryLoadUnknownModel(t *testing.T) {
	r := newTestRegistry(&countingBackend{})
	_, err := r.Load(context.Background(), "ghost")
	require.Error(t, err)
	var ierr *inference.Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, inference.ErrorModelNotFound, ierr.Kind)
}

func TestRegistryLoadCoalescesConcurrentCallers(t *testing.T) {
	backend := &countingBackend{}
	r := newTestRegistry(backend)
	require.NoError(t, r.Register(testSpec("tiny"), false))

	const n = 20
	var wg sync.WaitGroup
	handles := make([]inference.Handle, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lm, err := r.Load(context.Background(), "tiny")
			require.NoError(t, err)
			handles[i] = lm.Handle
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&backend.loadCalls))
	for i := 1; i < n; i++ {
		require.Equal(t, handles[0], handles[i])
	}
}

func TestRegistryLoadUnloadLoadIsEquivalentToTwoFreshLoads(t *testing.T) {
	backend := &countingBackend{}
	r := newTestRegistry(backend)
	require.NoError(t, r.Register(testSpec("tiny"), false))

	lm1, err := r.Load(context.Background(), "tiny")
	require.NoError(t, err)
	require.NoError(t, r.Release(lm1))
	require.NoError(t, r.Unload("tiny"))

	lm2, err := r.Load(context.Background(), "tiny")
	require.NoError(t, err)
	require.NoError(t, r.Release(lm2))

	require.EqualValues(t, 2, atomic.LoadInt32(&backend.loadCalls))
	require.NotEqual(t, lm1.Handle, lm2.Handle)
}

func TestRegistryUnloadDefersWhileReferenced(t *testing.T) {
	backend := &countingBackend{}
	r := newTestRegistry(backend)
	require.NoError(t, r.Register(testSpec("tiny"), false))

	lm, err := r.Load(context.Background(), "tiny")
	require.NoError(t, err)

	require.NoError(t, r.Unload("tiny"))
	require.EqualValues(t, 0, atomic.LoadInt32(&backend.releaseCalls)) // still referenced: release deferred
	_, stillRegistered := func() (inference.ModelSpec, bool) {
		return r.Get("tiny")
	}()
	require.True(t, stillRegistered) // the spec remains registered even once unloaded

	require.NoError(t, r.Release(lm))
	require.EqualValues(t, 1, atomic.LoadInt32(&backend.releaseCalls)) // last reference dropped: released
}

func TestRegistryAutoRegisterDoesNotOverwriteManual(t *testing.T) {
	r := newTestRegistry(&countingBackend{})
	manual := testSpec("dup")
	require.NoError(t, r.Register(manual, false))

	scanner := models.NewScanner([]string{t.TempDir()})
	n, err := r.AutoRegisterDiscovered(scanner)
	require.NoError(t, err)
	require.Zero(t, n)

	spec, _ := r.Get("dup")
	require.Equal(t, manual.LocalGGUF.BasePath, spec.LocalGGUF.BasePath)
}

func TestRegistryStatusReportsRefCount(t *testing.T) {
	r := newTestRegistry(&countingBackend{})
	require.NoError(t, r.Register(testSpec("tiny"), false))

	lm, err := r.Load(context.Background(), "tiny")
	require.NoError(t, err)

	statuses := r.Status()
	require.Len(t, statuses, 1)
	require.Equal(t, "tiny", statuses[0].Name)
	require.True(t, statuses[0].Loaded)
	require.Equal(t, 1, statuses[0].RefCount)

	require.NoError(t, r.Release(lm))
}
