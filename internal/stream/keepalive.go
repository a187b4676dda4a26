package stream

import "time"

// KeepAliveInterval is the per-connection SSE keep-alive period (spec
// §4.7 / the original's idle-ping behavior): if no frame has been
// forwarded to the downstream client in this long, a comment line is
// sent to hold the connection open through intermediate proxies.
const KeepAliveInterval = 15 * time.Second

// KeepAlive drives a per-connection ticker that is reset every time a
// real frame is forwarded, so comment lines are only sent during actual
// upstream silence (e.g. a long tool-use turn), never interleaved with a
// fast token stream.
type KeepAlive struct {
	timer *time.Timer
}

// NewKeepAlive starts the ticker.
func NewKeepAlive() *KeepAlive {
	return &KeepAlive{timer: time.NewTimer(KeepAliveInterval)}
}

// C returns the channel that fires when the connection has been silent
// for KeepAliveInterval.
func (k *KeepAlive) C() <-chan time.Time {
	return k.timer.C
}

// Reset is called after every forwarded frame, pushing the next
// keep-alive tick KeepAliveInterval further out.
func (k *KeepAlive) Reset() {
	if !k.timer.Stop() {
		select {
		case <-k.timer.C:
		default:
		}
	}
	k.timer.Reset(KeepAliveInterval)
}

// Stop releases the timer's resources.
func (k *KeepAlive) Stop() {
	k.timer.Stop()
}
