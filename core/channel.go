package core

// Channel is the host-side cross-process communication primitive the core
// builds on. It is an external collaborator: implementations may sit on MPI,
// gRPC, or an in-process loopback. All buffer arguments address host memory.
type Channel interface {
	// Rank and Size describe this process within the global job.
	Rank() int
	Size() int
	// LocalRank and LocalSize describe this process within its node.
	LocalRank() int
	LocalSize() int
	// CrossRank and CrossSize describe this process within the group of
	// same-local-rank peers across nodes.
	CrossRank() int
	CrossSize() int

	// Broadcast replaces buf on every rank in scope with the root's buf.
	// root is the rank's index within the scope.
	Broadcast(buf []byte, dtype DataType, root int, scope Scope) error
	// Allreduce sums count elements of buf element-wise across every rank in
	// scope, in place, leaving the full result on every rank.
	Allreduce(buf []byte, count int, dtype DataType, scope Scope) error
	// Allgatherv concatenates each rank's send buffer into recv on every
	// rank, ordered by scope-relative rank. recvCounts and displs are in
	// elements.
	Allgatherv(send []byte, sendCount int, recv []byte, recvCounts, displs []int, dtype DataType, scope Scope) error
	// Barrier blocks until every rank in scope has entered it.
	Barrier(scope Scope) error
}
