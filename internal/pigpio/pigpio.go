// Package pigpio is a small client for the pigpio daemon's socket
// interface, covering just what an IR emitter needs: pin mode, hardware
// PWM for the carrier and waveform transmission for pulse trains.
//
// Protocol: every request is four little-endian uint32 words
// {cmd, p1, p2, p3} where p3 carries the byte length of an optional
// extension blob; every reply echoes the first three words and returns a
// signed result in the fourth. https://abyz.me.uk/rpi/pigpio/sif.html
package pigpio

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	cmdModes uint32 = 0
	cmdWvClr uint32 = 27
	cmdWvAG  uint32 = 28
	cmdWvBsy uint32 = 32
	cmdWvCre uint32 = 49
	cmdWvDel uint32 = 50
	cmdWvTx  uint32 = 51
	cmdHP    uint32 = 86
)

const (
	pinModeOutput uint32 = 1

	// Hardware PWM duty is expressed in millionths of full scale.
	dutyScalePerPermille = 1000

	busyPollInterval = 10 * time.Millisecond
)

// DefaultAddr is where pigpiod listens unless started with -p.
const DefaultAddr = "localhost:8888"

// Error is a negative result code returned by the daemon.
type Error int32

func (e Error) Error() string {
	if msg, ok := errorText[int32(e)]; ok {
		return fmt.Sprintf("pigpio: %s (%d)", msg, int32(e))
	}
	return fmt.Sprintf("pigpio: error %d", int32(e))
}

var errorText = map[int32]string{
	-1: "initialisation failed",
	-2: "gpio not 0-31",
	-3: "gpio not 0-53",
	-4: "bad mode",
}

// Client owns one connection to pigpiod and the output line claimed on it.
// Requests are serialized internally; the daemon answers in order.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	gpio uint32
}

// Dial connects to pigpiod at addr and claims gpio as an output line.
func Dial(addr string, gpio uint32) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pigpio: connect %s: %w", addr, err)
	}
	c := &Client{conn: conn, gpio: gpio}
	if _, err := c.command(cmdModes, gpio, pinModeOutput, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pigpio: claim gpio %d: %w", gpio, err)
	}
	return c, nil
}

// Close switches the carrier off and releases the daemon connection.
func (c *Client) Close() error {
	// Best effort: never leave the emitter modulated behind a dead client.
	_ = c.SetCarrier(0, 0)
	return c.conn.Close()
}

// SetCarrier configures hardware PWM on the output line. A frequency of 0
// switches the carrier off. dutyPermille is 0-1000.
func (c *Client) SetCarrier(frequencyHz, dutyPermille uint32) error {
	ext := make([]byte, 4)
	binary.LittleEndian.PutUint32(ext, dutyPermille*dutyScalePerPermille)
	if _, err := c.command(cmdHP, c.gpio, frequencyHz, ext); err != nil {
		return fmt.Errorf("hardware pwm %d Hz: %w", frequencyHz, err)
	}
	return nil
}

// SendPulses uploads one waveform toggling the output line per the given
// mark/space durations (microseconds, marks at even indices) and blocks
// until the daemon reports the transmission finished. The waveform is
// deleted afterwards so repeated sends do not exhaust wave storage.
func (c *Client) SendPulses(pulses []uint32) error {
	if len(pulses) == 0 {
		return nil
	}

	if _, err := c.command(cmdWvClr, 0, 0, nil); err != nil {
		return fmt.Errorf("wave clear: %w", err)
	}

	lineMask := uint32(1) << c.gpio
	ext := make([]byte, 0, len(pulses)*12)
	var word [4]byte
	for i, dur := range pulses {
		on, off := lineMask, uint32(0)
		if i%2 == 1 {
			on, off = 0, lineMask
		}
		for _, v := range [3]uint32{on, off, dur} {
			binary.LittleEndian.PutUint32(word[:], v)
			ext = append(ext, word[:]...)
		}
	}
	if _, err := c.command(cmdWvAG, 0, 0, ext); err != nil {
		return fmt.Errorf("wave add %d pulses: %w", len(pulses), err)
	}

	waveID, err := c.command(cmdWvCre, 0, 0, nil)
	if err != nil {
		return fmt.Errorf("wave create: %w", err)
	}
	defer func() {
		_, _ = c.command(cmdWvDel, uint32(waveID), 0, nil)
	}()

	if _, err := c.command(cmdWvTx, uint32(waveID), 0, nil); err != nil {
		return fmt.Errorf("wave send: %w", err)
	}

	for {
		busy, err := c.command(cmdWvBsy, 0, 0, nil)
		if err != nil {
			return fmt.Errorf("wave busy poll: %w", err)
		}
		if busy == 0 {
			return nil
		}
		time.Sleep(busyPollInterval)
	}
}

// command performs one request/reply exchange and returns the result word.
// Negative results come back as Error.
func (c *Client) command(cmd, p1, p2 uint32, ext []byte) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := make([]byte, 16+len(ext))
	binary.LittleEndian.PutUint32(req[0:4], cmd)
	binary.LittleEndian.PutUint32(req[4:8], p1)
	binary.LittleEndian.PutUint32(req[8:12], p2)
	binary.LittleEndian.PutUint32(req[12:16], uint32(len(ext)))
	copy(req[16:], ext)

	if _, err := c.conn.Write(req); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}

	var resp [16]byte
	if _, err := io.ReadFull(c.conn, resp[:]); err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}

	res := int32(binary.LittleEndian.Uint32(resp[12:16]))
	if res < 0 {
		return res, Error(res)
	}
	return res, nil
}
