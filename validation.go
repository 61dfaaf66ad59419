package horovod

import (
	"github.com/pkg/errors"

	"github.com/carina28/horovod/core"
)

// ValidateRound checks a round against its negotiated response before any
// strategy runs. A failed validation is an InvalidArgument outcome: no
// collective call is made and every callback fires with the reason.
func ValidateRound(st *core.GlobalState, entries []core.TensorEntry, response core.ReductionResponse) error {
	if len(entries) == 0 {
		return errors.New("round carries no entries")
	}
	names := response.TensorNames()
	if len(names) != len(entries) {
		return errors.Errorf("response negotiated %d tensors, round carries %d", len(names), len(entries))
	}
	for i := range entries {
		e := &entries[i]
		if e.Name != names[i] {
			return errors.Errorf("entry %d is %q, response negotiated %q", i, e.Name, names[i])
		}
		if e.Callback == nil {
			return errors.Errorf("entry %q has no completion callback", e.Name)
		}
	}

	// Error rounds carry names and callbacks only.
	if response.Type() == core.ResponseError {
		return nil
	}

	first := &entries[0]
	for i := range entries {
		e := &entries[i]
		if e.Tensor == nil || e.Output == nil {
			return errors.Errorf("entry %q is missing a tensor view", e.Name)
		}
		if e.Tensor.DType() != e.Output.DType() {
			return errors.Errorf("entry %q output dtype %q disagrees with input %q",
				e.Name, e.Output.DType(), e.Tensor.DType())
		}
		if e.Device != first.Device {
			return errors.Errorf("round mixes devices: entry %q on %d, entry %q on %d",
				first.Name, first.Device, e.Name, e.Device)
		}
	}

	switch response.Type() {
	case core.ResponseAllreduce:
		if len(response.Devices()) != st.Size {
			return errors.Errorf("response lists %d devices for %d ranks", len(response.Devices()), st.Size)
		}
		for i := range entries {
			e := &entries[i]
			if e.Tensor.DType() != first.Tensor.DType() {
				return errors.Errorf("fused round mixes dtypes: %q is %q, %q is %q",
					first.Name, first.Tensor.DType(), e.Name, e.Tensor.DType())
			}
			if e.Output.Size() < e.Tensor.Size() {
				return errors.Errorf("entry %q output (%d bytes) smaller than input (%d bytes)",
					e.Name, e.Output.Size(), e.Tensor.Size())
			}
		}
	case core.ResponseBroadcast:
		root := response.RootRank()
		if root < 0 || root >= st.Size {
			return errors.Errorf("broadcast root %d outside [0, %d)", root, st.Size)
		}
	case core.ResponseAllgather:
		for i := range entries {
			if response.EntrySizes(i) == nil {
				return errors.Errorf("response carries no gather sizes for entry %q", entries[i].Name)
			}
		}
	}
	return nil
}
