package ops

import (
	"github.com/carina28/horovod/core"
)

// ErrorOp terminates rounds the negotiation layer already rejected: every
// entry's callback receives the negotiated error message and no collective
// call is made.
type ErrorOp struct{}

// NewErrorOp wires the error-round strategy.
func NewErrorOp() *ErrorOp {
	return &ErrorOp{}
}

func (o *ErrorOp) Name() string {
	return "error"
}

func (o *ErrorOp) Enabled(entries []core.TensorEntry, response core.ReductionResponse) bool {
	return response.Type() == core.ResponseError
}

func (o *ErrorOp) Execute(entries []core.TensorEntry, response core.ReductionResponse) core.Status {
	return core.PreconditionError(response.Error())
}
