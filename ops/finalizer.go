package ops

import (
	"github.com/dustin/go-humanize"

	"github.com/carina28/horovod/core"
)

// detachFinalizer hands the round to a background waiter that owns its event
// queue, host buffer, and entry list from here on. The waiter drains the
// queue strictly FIFO (so the timeline sees causally ordered intervals and
// events return to the pool only after firing), releases the host staging
// buffer, and delivers every callback with success in submission order. The
// submitting goroutine never blocks on device completion.
func (c *allreduceCore) detachFinalizer(rc *round) {
	tl := c.cfg.State.Timeline
	go func() {
		c.cfg.Devices.WaitForEvents(&rc.events, rc.deviceID, rc.entries, tl)

		if rc.hostBuffer != nil {
			c.cfg.Log.Debug().
				Str("size", humanize.IBytes(uint64(len(rc.hostBuffer)))).
				Msg("released host staging buffer")
			rc.hostBuffer = nil
		}

		for i := range rc.entries {
			e := &rc.entries[i]
			if tl != nil {
				tl.End(e.Name)
			}
			e.Callback(core.OK())
		}
	}()
}
