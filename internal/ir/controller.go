package ir

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"aircon-controller/internal/logger"
)

// PulseTransmitter drives the IR output line.
type PulseTransmitter interface {
	// SetCarrier configures the modulation applied during marks.
	// A frequency of 0 switches the carrier off.
	SetCarrier(frequencyHz, dutyPermille uint32) error
	// SendPulses transmits alternating mark/space durations in
	// microseconds and blocks until the line is idle again.
	SendPulses(pulses []uint32) error
}

// Controller serializes frame transmissions over a single transmitter.
type Controller struct {
	mu           sync.Mutex
	tx           PulseTransmitter
	carrierHz    uint32
	dutyPermille uint32
	limiter      *rate.Limiter
}

// NewController creates a Controller. rateLimit/rateBurst bound how fast
// frames may be pushed at the unit; most ACs ignore commands arriving
// faster than a few per second anyway.
func NewController(tx PulseTransmitter, carrierHz, dutyPermille uint32, rateLimit float64, rateBurst int) *Controller {
	return &Controller{
		tx:           tx,
		carrierHz:    carrierHz,
		dutyPermille: dutyPermille,
		limiter:      rate.NewLimiter(rate.Limit(rateLimit), rateBurst),
	}
}

// Transmit encodes the code into an NEC frame and sends it. Only one frame
// is on the air at a time; concurrent callers queue on the internal mutex.
// The carrier is switched off before returning on every path, including
// failures, so the emitter never stays modulated between frames. The
// encoded frame is returned for journaling even when the send failed.
func (c *Controller) Transmit(ctx context.Context, code Code) (frame Frame, err error) {
	frame = EncodeFrame(code)

	if err := c.limiter.Wait(ctx); err != nil {
		return frame, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tx.SetCarrier(c.carrierHz, c.dutyPermille); err != nil {
		if offErr := c.tx.SetCarrier(0, 0); offErr != nil {
			logger.Warn("[IR] carrier off after failed activation: %v", offErr)
		}
		return frame, fmt.Errorf("carrier on: %w", err)
	}
	defer func() {
		offErr := c.tx.SetCarrier(0, 0)
		if offErr == nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("carrier off: %w", offErr)
			return
		}
		logger.Warn("[IR] carrier off failed after transmit error: %v", offErr)
	}()

	if err := c.tx.SendPulses(frame); err != nil {
		return frame, fmt.Errorf("send frame 0x%08X: %w", RawCode(code), err)
	}
	return frame, nil
}
