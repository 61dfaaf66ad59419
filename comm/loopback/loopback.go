// Package loopback is an in-process core.Channel for tests and single-host
// jobs: every rank is a goroutine, and channel operations rendezvous all
// ranks of the addressed scope before completing.
package loopback

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/carina28/horovod/core"
)

// Group models a job topology: one entry per node giving the number of
// ranks on that node. Ranks are assigned node by node, so global rank
// r on node n has local rank r minus the sizes of nodes before n.
type Group struct {
	nodeSizes []int
	size      int
	rankNode  []int
	rankLocal []int

	mu    sync.Mutex
	inFly map[string]*pending
}

// NewGroup creates a group from per-node rank counts.
func NewGroup(nodeSizes []int) (*Group, error) {
	if len(nodeSizes) == 0 {
		return nil, errors.New("group needs at least one node")
	}
	g := &Group{nodeSizes: nodeSizes, inFly: make(map[string]*pending)}
	for node, n := range nodeSizes {
		if n <= 0 {
			return nil, errors.Errorf("node %d has %d ranks", node, n)
		}
		for local := 0; local < n; local++ {
			g.rankNode = append(g.rankNode, node)
			g.rankLocal = append(g.rankLocal, local)
		}
		g.size += n
	}
	return g, nil
}

// Size returns the total rank count.
func (g *Group) Size() int { return g.size }

// IsHomogeneous reports whether every node has the same rank count.
func (g *Group) IsHomogeneous() bool {
	for _, n := range g.nodeSizes {
		if n != g.nodeSizes[0] {
			return false
		}
	}
	return true
}

// Channel returns rank's view of the group.
func (g *Group) Channel(rank int) (*Channel, error) {
	if rank < 0 || rank >= g.size {
		return nil, errors.Errorf("rank %d out of range for group of %d", rank, g.size)
	}
	return &Channel{g: g, rank: rank, seq: make(map[string]int)}, nil
}

// scopeMembers returns the ordered global ranks rank shares the scope with,
// and a stable identifier for that member set.
func (g *Group) scopeMembers(rank int, scope core.Scope) ([]int, string) {
	switch scope {
	case core.ScopeLocal:
		node := g.rankNode[rank]
		var members []int
		for r := 0; r < g.size; r++ {
			if g.rankNode[r] == node {
				members = append(members, r)
			}
		}
		return members, fmt.Sprintf("local:%d", node)
	case core.ScopeCross:
		local := g.rankLocal[rank]
		var members []int
		for r := 0; r < g.size; r++ {
			if g.rankLocal[r] == local {
				members = append(members, r)
			}
		}
		return members, fmt.Sprintf("cross:%d", local)
	default:
		members := make([]int, g.size)
		for r := range members {
			members[r] = r
		}
		return members, "global"
	}
}

// Channel is one rank's endpoint. Implements core.Channel.
type Channel struct {
	g    *Group
	rank int

	seqMu sync.Mutex
	seq   map[string]int
}

func (c *Channel) Rank() int { return c.rank }
func (c *Channel) Size() int { return c.g.size }

func (c *Channel) LocalRank() int { return c.g.rankLocal[c.rank] }
func (c *Channel) LocalSize() int { return c.g.nodeSizes[c.g.rankNode[c.rank]] }

func (c *Channel) CrossRank() int {
	members, _ := c.g.scopeMembers(c.rank, core.ScopeCross)
	for i, r := range members {
		if r == c.rank {
			return i
		}
	}
	return 0
}

func (c *Channel) CrossSize() int {
	members, _ := c.g.scopeMembers(c.rank, core.ScopeCross)
	return len(members)
}

// LocalRanks returns the global ranks on this rank's node, local-rank order.
func (c *Channel) LocalRanks() []int {
	members, _ := c.g.scopeMembers(c.rank, core.ScopeLocal)
	return members
}

func (c *Channel) Broadcast(buf []byte, dtype core.DataType, root int, scope core.Scope) error {
	return c.exchange("broadcast", scope, part{buf: buf, snap: snapshot(buf)},
		func(members []int, parts map[int]part) error {
			if root < 0 || root >= len(members) {
				return errors.Errorf("broadcast root %d out of range for scope of %d", root, len(members))
			}
			src := parts[root].snap
			for i := range members {
				copy(parts[i].buf, src)
			}
			return nil
		})
}

func (c *Channel) Allreduce(buf []byte, count int, dtype core.DataType, scope core.Scope) error {
	need := count * dtype.Size()
	if len(buf) < need {
		return errors.Errorf("allreduce buffer holds %d bytes, need %d", len(buf), need)
	}
	return c.exchange("allreduce", scope, part{buf: buf, snap: snapshot(buf[:need])},
		func(members []int, parts map[int]part) error {
			tmp := snapshot(parts[0].snap)
			for i := 1; i < len(members); i++ {
				if err := core.SumInto(tmp, parts[i].snap, dtype, count); err != nil {
					return err
				}
			}
			for i := range members {
				copy(parts[i].buf, tmp)
			}
			return nil
		})
}

func (c *Channel) Allgatherv(send []byte, sendCount int, recv []byte, recvCounts, displs []int, dtype core.DataType, scope core.Scope) error {
	elem := dtype.Size()
	return c.exchange("allgatherv", scope, part{buf: recv, snap: snapshot(send[:sendCount*elem])},
		func(members []int, parts map[int]part) error {
			if len(recvCounts) < len(members) || len(displs) < len(members) {
				return errors.Errorf("allgatherv needs counts for %d members", len(members))
			}
			for s := range members {
				for d := range members {
					dst := parts[d].buf[displs[s]*elem:]
					copy(dst[:recvCounts[s]*elem], parts[s].snap)
				}
			}
			return nil
		})
}

func (c *Channel) Barrier(scope core.Scope) error {
	return c.exchange("barrier", scope, part{},
		func(members []int, parts map[int]part) error { return nil })
}

type part struct {
	buf  []byte
	snap []byte
}

type pending struct {
	kind  string
	parts map[int]part
	done  chan struct{}
	err   error
}

func snapshot(b []byte) []byte {
	return append([]byte(nil), b...)
}

// exchange synchronizes one operation across the scope. Every member blocks
// until all have arrived; the last arriver runs complete with the parts
// keyed by scope-relative rank, while the rest are parked, so buffer writes
// are race-free.
func (c *Channel) exchange(kind string, scope core.Scope, p part, complete func(members []int, parts map[int]part) error) error {
	members, scopeID := c.g.scopeMembers(c.rank, scope)
	idx := 0
	for i, r := range members {
		if r == c.rank {
			idx = i
		}
	}

	c.seqMu.Lock()
	c.seq[scopeID]++
	key := fmt.Sprintf("%s#%d", scopeID, c.seq[scopeID])
	c.seqMu.Unlock()

	g := c.g
	g.mu.Lock()
	op, ok := g.inFly[key]
	if !ok {
		op = &pending{kind: kind, parts: make(map[int]part), done: make(chan struct{})}
		g.inFly[key] = op
	}
	if op.kind != kind {
		g.mu.Unlock()
		return errors.Errorf("channel call mismatch in %s: %s vs %s", scopeID, kind, op.kind)
	}
	op.parts[idx] = p
	if len(op.parts) == len(members) {
		op.err = complete(members, op.parts)
		delete(g.inFly, key)
		g.mu.Unlock()
		close(op.done)
		return op.err
	}
	g.mu.Unlock()
	<-op.done
	return op.err
}
