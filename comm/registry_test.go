package comm_test

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carina28/horovod/comm"
	"github.com/carina28/horovod/comm/loopback"
	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
	"github.com/carina28/horovod/device/sim"
)

// handshake runs one registry per rank against a shared collective, the way
// one process per rank would, and returns each rank's communicator.
func handshake(t *testing.T, nranks int, devices []int) []device.Comm {
	t.Helper()
	g, err := loopback.NewGroup([]int{nranks})
	require.NoError(t, err)
	coll := sim.NewCollective()

	// Failures are collected and asserted after the join; t must not be
	// failed from spawned goroutines.
	comms := make([]device.Comm, nranks)
	errs := make([]error, nranks)
	var wg sync.WaitGroup
	for rank := 0; rank < nranks; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			ch, err := g.Channel(rank)
			if err != nil {
				errs[rank] = err
				return
			}
			reg := comm.NewRegistry(coll, ch, zerolog.Nop())
			comms[rank] = reg.GetOrCreate(devices, devices[rank],
				comm.Strategy{Rank: rank, Size: nranks, Scope: core.ScopeGlobal})
		}(rank)
	}
	wg.Wait()
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	return comms
}

func TestHandshakeCreatesOneCommunicatorPerRank(t *testing.T) {
	comms := handshake(t, 3, []int{0, 1, 2})
	for rank, cm := range comms {
		require.NotNil(t, cm)
		assert.Equal(t, rank, cm.Rank())
		assert.Equal(t, 3, cm.Size())
	}
}

func TestGetOrCreateIsMemoized(t *testing.T) {
	g, err := loopback.NewGroup([]int{1})
	require.NoError(t, err)
	ch, err := g.Channel(0)
	require.NoError(t, err)

	reg := comm.NewRegistry(sim.NewCollective(), ch, zerolog.Nop())
	strat := comm.Strategy{Rank: 0, Size: 1, Scope: core.ScopeGlobal}

	first := reg.GetOrCreate([]int{0}, 0, strat)
	second := reg.GetOrCreate([]int{0}, 0, strat)
	assert.Same(t, first, second)
}

func TestLookupMissesBeforeCreation(t *testing.T) {
	g, err := loopback.NewGroup([]int{1})
	require.NoError(t, err)
	ch, err := g.Channel(0)
	require.NoError(t, err)

	reg := comm.NewRegistry(sim.NewCollective(), ch, zerolog.Nop())

	_, ok := reg.Lookup([]int{0})
	assert.False(t, ok)

	created := reg.GetOrCreate([]int{0}, 0, comm.Strategy{Rank: 0, Size: 1, Scope: core.ScopeGlobal})
	found, ok := reg.Lookup([]int{0})
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestDistinctDeviceSetsGetDistinctCommunicators(t *testing.T) {
	g, err := loopback.NewGroup([]int{1})
	require.NoError(t, err)
	ch, err := g.Channel(0)
	require.NoError(t, err)

	reg := comm.NewRegistry(sim.NewCollective(), ch, zerolog.Nop())
	strat := comm.Strategy{Rank: 0, Size: 1, Scope: core.ScopeGlobal}

	a := reg.GetOrCreate([]int{0}, 0, strat)
	b := reg.GetOrCreate([]int{1}, 1, strat)
	assert.NotSame(t, a, b)
}
