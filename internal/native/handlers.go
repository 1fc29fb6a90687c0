package native

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"

	"github.com/redshirt-os/kernel/internal/klog"
)

// MonotonicClock answers spec.md §4.7's time interface with nanoseconds
// since the bridge's construction, encoded little-endian in 8 bytes. It is
// the same quantity internal/metrics exposes as redshirt_monotonic_clock.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock starts a clock whose zero point is now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Handle ignores the request body (the time interface takes no parameters)
// and answers with the elapsed nanoseconds.
func (c *MonotonicClock) Handle(ctx context.Context, body []byte) ([]byte, error) {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(time.Since(c.start).Nanoseconds()))
	return out, nil
}

// RandomSource answers spec.md §4.7's random interface. body's first 4
// bytes (little-endian) name how many random bytes the caller wants.
type RandomSource struct{}

// ErrRandomRequestTooShort is returned when body doesn't carry a length
// prefix.
var ErrRandomRequestTooShort = errors.New("native: random request missing length prefix")

func (RandomSource) Handle(ctx context.Context, body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, ErrRandomRequestTooShort
	}
	n := binary.LittleEndian.Uint32(body[:4])
	out := make([]byte, n)
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// KernelLog answers spec.md §4.7's kernel-log interface by writing the
// message body through internal/klog, tagged with the Pid field. Handle is
// not told which process emitted the message, so every record carries the
// Pid the handler was constructed with (zero for the default registration
// in system.SystemBuilder).
type KernelLog struct {
	Pid uint64
}

func (k KernelLog) Handle(ctx context.Context, body []byte) ([]byte, error) {
	klog.WithPid(k.Pid).Info("program log", "message", string(body))
	return nil, nil
}

// HardwareIO answers spec.md §4.7's hardware-I/O interface. Real port/MMIO
// access is embedder- and platform-specific (spec.md explicitly keeps the
// decoder/platform layer out of scope, SPEC_FULL.md §E); this default
// implementation refuses every request, leaving concrete I/O to an
// embedder-supplied Handler registered for the same tag with
// system.SystemBuilder.WithNativeHandler.
type HardwareIO struct{}

var ErrHardwareIONotSupported = errors.New("native: hardware-io not implemented by this embedder")

func (HardwareIO) Handle(ctx context.Context, body []byte) ([]byte, error) {
	return nil, ErrHardwareIONotSupported
}
