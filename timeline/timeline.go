// Package timeline provides core.Timeline implementations: a disabled
// no-op, an in-memory recorder, and a WebSocket streaming sink.
package timeline

// Noop is a disabled timeline. The execution core skips all per-phase
// bookkeeping when Initialized reports false.
type Noop struct{}

func (Noop) Initialized() bool                 { return false }
func (Noop) ActivityStart(tensor, name string) {}
func (Noop) ActivityEnd(tensor string)         {}
func (Noop) End(tensor string)                 {}
