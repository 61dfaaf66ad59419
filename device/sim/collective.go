package sim

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
)

// Collective implements device.Collective for simulated devices. One
// Collective value is shared by every in-process rank, the way a vendor
// collective library is shared hardware-side. Calls are queued on the
// caller's stream; the queued task rendezvouses with the matching call of
// every other rank in the communicator, and the last arriver computes the
// result into every rank's receive buffer.
type Collective struct {
	mu     sync.Mutex
	groups map[device.CommID]*commGroup
}

// NewCollective creates an empty collective library instance.
func NewCollective() *Collective {
	return &Collective{groups: make(map[device.CommID]*commGroup)}
}

// CommInitRank joins the communicator identified by id, blocking until all
// nranks members have joined.
func (c *Collective) CommInitRank(id device.CommID, nranks, rank, deviceID int) (device.Comm, error) {
	if nranks <= 0 || rank < 0 || rank >= nranks {
		return nil, errors.Errorf("invalid communicator geometry: rank %d of %d", rank, nranks)
	}

	c.mu.Lock()
	g, ok := c.groups[id]
	if !ok {
		g = newCommGroup(nranks)
		c.groups[id] = g
	}
	c.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nranks != nranks {
		return nil, errors.Errorf("communicator size mismatch: got %d, group expects %d", nranks, g.nranks)
	}
	if g.members[rank] {
		return nil, errors.Errorf("rank %d already joined this communicator", rank)
	}
	g.members[rank] = true
	g.joined++
	g.cond.Broadcast()
	for g.joined < g.nranks {
		g.cond.Wait()
	}
	return &comm{group: g, rank: rank, size: nranks, deviceID: deviceID}, nil
}

func (c *Collective) AllReduce(send, recv []byte, count int, dtype core.DataType, cm device.Comm, s device.Stream) error {
	return c.submit(opAllReduce, send, recv, count, dtype, 0, cm, s)
}

func (c *Collective) ReduceScatter(send, recv []byte, recvCount int, dtype core.DataType, cm device.Comm, s device.Stream) error {
	return c.submit(opReduceScatter, send, recv, recvCount, dtype, 0, cm, s)
}

func (c *Collective) Reduce(send, recv []byte, count int, dtype core.DataType, root int, cm device.Comm, s device.Stream) error {
	return c.submit(opReduce, send, recv, count, dtype, root, cm, s)
}

func (c *Collective) AllGather(send, recv []byte, sendCount int, dtype core.DataType, cm device.Comm, s device.Stream) error {
	return c.submit(opAllGather, send, recv, sendCount, dtype, 0, cm, s)
}

func (c *Collective) Broadcast(buf []byte, count int, dtype core.DataType, root int, cm device.Comm, s device.Stream) error {
	return c.submit(opBroadcast, buf, buf, count, dtype, root, cm, s)
}

type collectiveOp string

const (
	opAllReduce     collectiveOp = "allreduce"
	opReduceScatter collectiveOp = "reducescatter"
	opReduce        collectiveOp = "reduce"
	opAllGather     collectiveOp = "allgather"
	opBroadcast     collectiveOp = "broadcast"
)

func summable(dtype core.DataType) bool {
	switch dtype {
	case core.Int32, core.Int64, core.Float16, core.Float32, core.Float64:
		return true
	}
	return false
}

// submit validates arguments synchronously, then queues the rendezvous task.
func (c *Collective) submit(op collectiveOp, send, recv []byte, count int, dtype core.DataType, root int, cm device.Comm, s device.Stream) error {
	scm, ok := cm.(*comm)
	if !ok {
		return errors.Errorf("communicator %T does not belong to the simulated collective", cm)
	}
	st, err := asSimStream(s)
	if err != nil {
		return err
	}
	if count < 0 {
		return errors.Errorf("%s: negative element count %d", op, count)
	}
	if op != opAllGather && op != opBroadcast && !summable(dtype) {
		return errors.Errorf("%s: data type %s is not supported", op, dtype)
	}

	elem := dtype.Size()
	sendBytes, recvBytes := count*elem, count*elem
	switch op {
	case opReduceScatter:
		sendBytes = count * elem * scm.size
	case opAllGather:
		recvBytes = count * elem * scm.size
	}
	if len(send) < sendBytes {
		return errors.Errorf("%s: send buffer holds %d bytes, need %d", op, len(send), sendBytes)
	}
	if len(recv) < recvBytes {
		return errors.Errorf("%s: recv buffer holds %d bytes, need %d", op, len(recv), recvBytes)
	}
	if (op == opReduce || op == opBroadcast) && (root < 0 || root >= scm.size) {
		return errors.Errorf("%s: root %d out of range for communicator of size %d", op, root, scm.size)
	}

	seq := scm.nextSeq()
	st.enqueue(func() {
		scm.group.rendezvous(seq, op, scm.rank, part{
			send:  append([]byte(nil), send[:sendBytes]...),
			recv:  recv[:recvBytes],
			count: count,
			dtype: dtype,
			root:  root,
		})
	})
	return nil
}

// comm is one rank's handle into a communicator group.
type comm struct {
	group    *commGroup
	rank     int
	size     int
	deviceID int

	seqMu sync.Mutex
	seq   int
}

func (c *comm) Rank() int { return c.rank }
func (c *comm) Size() int { return c.size }

// nextSeq orders this rank's collective calls. Ranks must issue the same
// sequence of calls, so equal sequence numbers identify the same collective.
func (c *comm) nextSeq() int {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seq++
	return c.seq
}

type part struct {
	send  []byte
	recv  []byte
	count int
	dtype core.DataType
	root  int
}

type round struct {
	op    collectiveOp
	parts map[int]part
	done  chan struct{}
}

type commGroup struct {
	mu      sync.Mutex
	cond    *sync.Cond
	nranks  int
	joined  int
	members map[int]bool
	rounds  map[int]*round
}

func newCommGroup(nranks int) *commGroup {
	g := &commGroup{
		nranks:  nranks,
		members: make(map[int]bool),
		rounds:  make(map[int]*round),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// rendezvous runs on a stream goroutine. It registers the rank's
// contribution for sequence seq and blocks until every rank has arrived; the
// last arriver computes the result. Mismatched call sequences across ranks
// are unrecoverable and abort.
func (g *commGroup) rendezvous(seq int, op collectiveOp, rank int, p part) {
	g.mu.Lock()
	r, ok := g.rounds[seq]
	if !ok {
		r = &round{op: op, parts: make(map[int]part), done: make(chan struct{})}
		g.rounds[seq] = r
	}
	if r.op != op {
		g.mu.Unlock()
		panic(fmt.Sprintf("collective call mismatch at sequence %d: rank %d issued %s, peers issued %s", seq, rank, op, r.op))
	}
	r.parts[rank] = p
	if len(r.parts) == g.nranks {
		g.complete(r)
		delete(g.rounds, seq)
		g.mu.Unlock()
		close(r.done)
		return
	}
	g.mu.Unlock()
	<-r.done
}

// complete computes the collective result into every rank's recv buffer.
// All other participants are parked on the done channel, so the writes are
// race-free.
func (g *commGroup) complete(r *round) {
	first := r.parts[0]
	elem := first.dtype.Size()

	switch r.op {
	case opAllReduce:
		tmp := append([]byte(nil), first.send...)
		for rank := 1; rank < g.nranks; rank++ {
			mustSum(tmp, r.parts[rank].send, first.dtype, first.count)
		}
		for rank := 0; rank < g.nranks; rank++ {
			copy(r.parts[rank].recv, tmp)
		}
	case opReduceScatter:
		tmp := append([]byte(nil), first.send...)
		for rank := 1; rank < g.nranks; rank++ {
			mustSum(tmp, r.parts[rank].send, first.dtype, first.count*g.nranks)
		}
		shard := first.count * elem
		for rank := 0; rank < g.nranks; rank++ {
			copy(r.parts[rank].recv, tmp[rank*shard:(rank+1)*shard])
		}
	case opReduce:
		tmp := append([]byte(nil), first.send...)
		for rank := 1; rank < g.nranks; rank++ {
			mustSum(tmp, r.parts[rank].send, first.dtype, first.count)
		}
		copy(r.parts[first.root].recv, tmp)
	case opAllGather:
		shard := first.count * elem
		for rank := 0; rank < g.nranks; rank++ {
			dst := r.parts[rank].recv
			for src := 0; src < g.nranks; src++ {
				copy(dst[src*shard:(src+1)*shard], r.parts[src].send)
			}
		}
	case opBroadcast:
		src := r.parts[first.root].send
		for rank := 0; rank < g.nranks; rank++ {
			copy(r.parts[rank].recv, src)
		}
	}
}

func mustSum(dst, src []byte, dtype core.DataType, n int) {
	if err := core.SumInto(dst, src, dtype, n); err != nil {
		panic(err)
	}
}
