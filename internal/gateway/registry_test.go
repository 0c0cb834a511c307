package gateway

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewTransportRegistry()
	tr := NewTransport("/alice/search_bot/message")

	reg.Register("alice", "search_bot", tr)

	got, ok := reg.Lookup("alice", "search_bot")
	require.True(t, ok)
	assert.Same(t, tr, got)
	assert.Equal(t, 1, reg.Len())

	_, ok = reg.Lookup("alice", "database_bot")
	assert.False(t, ok)
	_, ok = reg.Lookup("bob", "search_bot")
	assert.False(t, ok)
}

func TestRegistrySupersedeClosesOldTransport(t *testing.T) {
	reg := NewTransportRegistry()
	first := NewTransport("/alice/search_bot/message")
	second := NewTransport("/alice/search_bot/message")

	reg.Register("alice", "search_bot", first)
	reg.Register("alice", "search_bot", second)

	assert.Equal(t, StateClosed, first.State())
	got, ok := reg.Lookup("alice", "search_bot")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryIndependentPairsDoNotInterfere(t *testing.T) {
	reg := NewTransportRegistry()
	aliceSearch := NewTransport("/alice/search_bot/message")
	aliceDB := NewTransport("/alice/database_bot/message")
	bobSearch := NewTransport("/bob/search_bot/message")

	reg.Register("alice", "search_bot", aliceSearch)
	reg.Register("alice", "database_bot", aliceDB)
	reg.Register("bob", "search_bot", bobSearch)

	assert.Equal(t, 3, reg.Len())
	assert.NotEqual(t, StateClosed, aliceSearch.State())
	assert.NotEqual(t, StateClosed, aliceDB.State())
	assert.NotEqual(t, StateClosed, bobSearch.State())
}

func TestRegistryRemoveIsOwnerChecked(t *testing.T) {
	reg := NewTransportRegistry()
	first := NewTransport("/alice/search_bot/message")
	second := NewTransport("/alice/search_bot/message")

	reg.Register("alice", "search_bot", first)
	reg.Register("alice", "search_bot", second)

	// The superseded transport's cleanup races the new registration; it must
	// not evict the replacement.
	reg.Remove("alice", "search_bot", first)
	got, ok := reg.Lookup("alice", "search_bot")
	require.True(t, ok)
	assert.Same(t, second, got)

	reg.Remove("alice", "search_bot", second)
	_, ok = reg.Lookup("alice", "search_bot")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryRemoveUnknownKeyIsNoop(t *testing.T) {
	reg := NewTransportRegistry()
	tr := NewTransport("/alice/search_bot/message")
	assert.NotPanics(t, func() { reg.Remove("alice", "search_bot", tr) })
}

func TestRegistryConcurrentRegisterSameKey(t *testing.T) {
	reg := NewTransportRegistry()

	const n = 32
	transports := make([]*Transport, n)
	for i := range transports {
		transports[i] = NewTransport("/alice/search_bot/message")
	}

	var wg sync.WaitGroup
	for _, tr := range transports {
		wg.Add(1)
		go func(tr *Transport) {
			defer wg.Done()
			reg.Register("alice", "search_bot", tr)
		}(tr)
	}
	wg.Wait()

	// Exactly one transport survives and it is the registered one; every
	// other transport has been closed.
	assert.Equal(t, 1, reg.Len())
	current, ok := reg.Lookup("alice", "search_bot")
	require.True(t, ok)

	closed := 0
	for _, tr := range transports {
		if tr == current {
			assert.NotEqual(t, StateClosed, tr.State())
			continue
		}
		if tr.State() == StateClosed {
			closed++
		}
	}
	assert.Equal(t, n-1, closed)
}
