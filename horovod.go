// Package horovod is the execution core of a distributed tensor-reduction
// system. The external negotiation layer decides which tensors form a round
// and hands the decision here; this package packs the batch, runs the
// collective through the configured strategy, and signals completion through
// per-tensor callbacks.
package horovod

import (
	"github.com/rs/zerolog"

	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/ops"
)

// Executor routes negotiated rounds to collective strategies. Each response
// type owns an ordered strategy list; the first enabled strategy runs the
// round. Executors are safe for concurrent rounds on distinct devices.
type Executor struct {
	state *core.GlobalState
	table map[core.ResponseType][]ops.Operation
	log   zerolog.Logger
}

// State returns the process-wide rank geometry and topology facts.
func (x *Executor) State() *core.GlobalState {
	return x.state
}

// ExecuteRound runs one negotiated round. A terminal return means every
// entry's callback has already fired with that status; a deferred return
// means the selected strategy owns the callbacks and will fire them from its
// background finalizer.
func (x *Executor) ExecuteRound(entries []core.TensorEntry, response core.ReductionResponse) core.Status {
	if err := ValidateRound(x.state, entries, response); err != nil {
		status := core.InvalidArgument(err.Error())
		x.log.Error().Err(err).Str("type", string(response.Type())).Msg("rejected malformed round")
		x.reject(entries, status)
		return status
	}

	op := x.selectOp(entries, response)
	if op == nil {
		status := core.PreconditionError("no strategy accepts this round")
		x.reject(entries, status)
		return status
	}

	x.log.Debug().
		Str("op", op.Name()).
		Int("tensors", len(entries)).
		Msg("executing round")

	status := op.Execute(entries, response)
	if status.Deferred() {
		return status
	}
	if !status.Ok() {
		x.log.Error().Str("op", op.Name()).Str("reason", status.Reason).Msg("round failed")
	}
	x.deliver(entries, status)
	return status
}

// selectOp walks the response type's strategy list in priority order.
func (x *Executor) selectOp(entries []core.TensorEntry, response core.ReductionResponse) ops.Operation {
	for _, op := range x.table[response.Type()] {
		if op.Enabled(entries, response) {
			return op
		}
	}
	return nil
}

// deliver closes out a round a strategy executed: the timeline sees the end
// of every entry, then each callback fires in submission order.
func (x *Executor) deliver(entries []core.TensorEntry, status core.Status) {
	core.EndAll(x.state.Timeline, entries)
	for i := range entries {
		entries[i].Callback(status)
	}
}

// reject closes out a round that never reached a strategy. The timeline has
// not seen these tensors, so only the callbacks fire.
func (x *Executor) reject(entries []core.TensorEntry, status core.Status) {
	for i := range entries {
		entries[i].Callback(status)
	}
}
