package core

// ResponseType says which collective the negotiation layer decided to run.
type ResponseType string

const (
	ResponseAllreduce ResponseType = "allreduce"
	ResponseAllgather ResponseType = "allgather"
	ResponseBroadcast ResponseType = "broadcast"
	ResponseError     ResponseType = "error"
)

// ReductionResponse is the decided set of tensors and participating devices
// for one collective round. It is produced once by the external negotiation
// layer and consumed once by the execution core; treat it as immutable.
type ReductionResponse struct {
	respType    ResponseType
	tensorNames []string
	devices     []int
	rootRank    int
	entrySizes  [][]int
	errText     string
}

// NewAllreduceResponse builds a response for a sum-allreduce round.
// devices is ordered by participating rank.
func NewAllreduceResponse(tensorNames []string, devices []int) ReductionResponse {
	return ReductionResponse{
		respType:    ResponseAllreduce,
		tensorNames: tensorNames,
		devices:     devices,
	}
}

// NewBroadcastResponse builds a response for a broadcast round rooted at the
// given rank.
func NewBroadcastResponse(tensorNames []string, devices []int, rootRank int) ReductionResponse {
	return ReductionResponse{
		respType:    ResponseBroadcast,
		tensorNames: tensorNames,
		devices:     devices,
		rootRank:    rootRank,
	}
}

// NewAllgatherResponse builds a response for a gather round.
// entrySizes[i][r] is the element count rank r contributes for entry i.
func NewAllgatherResponse(tensorNames []string, devices []int, entrySizes [][]int) ReductionResponse {
	return ReductionResponse{
		respType:    ResponseAllgather,
		tensorNames: tensorNames,
		devices:     devices,
		entrySizes:  entrySizes,
	}
}

// NewErrorResponse builds a response that aborts the named tensors with the
// negotiation layer's error message.
func NewErrorResponse(tensorNames []string, errText string) ReductionResponse {
	return ReductionResponse{
		respType:    ResponseError,
		tensorNames: tensorNames,
		errText:     errText,
	}
}

func (r ReductionResponse) Type() ResponseType { return r.respType }

// TensorNames returns the participating tensor names in submission order.
// Callers must not modify the returned slice.
func (r ReductionResponse) TensorNames() []string { return r.tensorNames }

// Devices returns the participating device ids ordered by rank.
// Callers must not modify the returned slice.
func (r ReductionResponse) Devices() []int { return r.devices }

// RootRank returns the broadcast root rank.
func (r ReductionResponse) RootRank() int { return r.rootRank }

// EntrySizes returns the per-rank element counts for gather entry i, or nil
// when the response carries no sizes for it.
func (r ReductionResponse) EntrySizes(i int) []int {
	if i < 0 || i >= len(r.entrySizes) {
		return nil
	}
	return r.entrySizes[i]
}

// Error returns the negotiation layer's error message for error rounds.
func (r ReductionResponse) Error() string { return r.errText }
