package ops

import (
	"github.com/carina28/horovod/comm"
	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
)

// DeviceAllreduce is the flat device strategy: one sum-allreduce over the
// packed batch, issued on the device stream across a communicator spanning
// every participating device. Completion is asynchronous unless Blocking is
// configured.
type DeviceAllreduce struct {
	core allreduceCore
}

// NewDeviceAllreduce wires the flat device allreduce strategy.
func NewDeviceAllreduce(cfg Config) *DeviceAllreduce {
	return &DeviceAllreduce{core: allreduceCore{cfg: cfg}}
}

func (d *DeviceAllreduce) Name() string {
	return "device_allreduce"
}

// Enabled applies to device-resident batches only.
func (d *DeviceAllreduce) Enabled(entries []core.TensorEntry, response core.ReductionResponse) bool {
	return entries[0].OnDevice()
}

func (d *DeviceAllreduce) Execute(entries []core.TensorEntry, response core.ReductionResponse) core.Status {
	return d.core.execute(d, entries, response)
}

func (d *DeviceAllreduce) commDevices(response core.ReductionResponse) []int {
	return response.Devices()
}

func (d *DeviceAllreduce) commStrategy() comm.Strategy {
	st := d.core.cfg.State
	return comm.Strategy{Rank: st.Rank, Size: st.Size, Scope: core.ScopeGlobal}
}

func (d *DeviceAllreduce) reduce(rc *round) {
	cfg := d.core.cfg
	n := rc.numElements * rc.dtype.Size()
	device.ErrorCheck("AllReduce",
		cfg.Collective.AllReduce(rc.input[:n], rc.output[:n], rc.numElements, rc.dtype, rc.comm, rc.stream))
	d.core.recordEventEnd(rc, ActivityAllreduce)
}
