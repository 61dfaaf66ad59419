// Package comm owns communicator handles: lazily created per distinct
// ordered device-id set through a one-time cross-process handshake, then
// retained for the process lifetime.
package comm

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
)

// Strategy tells the registry how this process participates in the
// communicator being created: its rank within the set, the set size, and the
// channel scope over which the shared identifier is broadcast.
type Strategy struct {
	Rank  int
	Size  int
	Scope core.Scope
}

// Registry memoizes communicator handles keyed by the exact ordered
// device-id sequence. Handles, once created, are immutable and read-shared
// across rounds.
type Registry struct {
	coll    device.Collective
	channel core.Channel
	log     zerolog.Logger

	mu    sync.Mutex
	comms map[string]device.Comm
}

// NewRegistry creates an empty registry over the given collective library
// and host channel.
func NewRegistry(coll device.Collective, channel core.Channel, log zerolog.Logger) *Registry {
	return &Registry{
		coll:    coll,
		channel: channel,
		log:     log,
		comms:   make(map[string]device.Comm),
	}
}

func commKey(devices []int) string {
	return fmt.Sprint(devices)
}

// Lookup returns the memoized handle for the device set, if any.
func (r *Registry) Lookup(devices []int) (device.Comm, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cm, ok := r.comms[commKey(devices)]
	return cm, ok
}

// GetOrCreate returns the communicator for the ordered device set, running
// the one-time handshake on first use: rank 0 of the set generates a shared
// identifier, broadcasts it over the host channel in the strategy's scope,
// every member initializes its handle, and a global barrier prevents races
// during concurrent first use. Handshake failures abort the process.
func (r *Registry) GetOrCreate(devices []int, deviceID int, strat Strategy) device.Comm {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := commKey(devices)
	if cm, ok := r.comms[key]; ok {
		return cm
	}

	var id device.CommID
	if strat.Rank == 0 {
		id = device.CommID(uuid.New())
	}
	device.ErrorCheck("CommIDBroadcast", r.channel.Broadcast(id[:], core.Byte, 0, strat.Scope))

	cm, err := r.coll.CommInitRank(id, strat.Size, strat.Rank, deviceID)
	device.ErrorCheck("CommInitRank", err)

	// The barrier keeps a slow member from racing a peer that immediately
	// starts the first collective on the new communicator.
	device.ErrorCheck("CommInitBarrier", r.channel.Barrier(core.ScopeGlobal))

	r.comms[key] = cm
	r.log.Info().Str("devices", key).Int("size", strat.Size).Msg("initialized communicator")
	return cm
}
