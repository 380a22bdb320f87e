package pigpio

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type request struct {
	cmd uint32
	p1  uint32
	p2  uint32
	ext []byte
}

// fakeDaemon speaks just enough of the pigpiod socket protocol to test the
// client: it records every request and answers with queued result words,
// defaulting to 0.
type fakeDaemon struct {
	ln net.Listener

	mu       sync.Mutex
	requests []request
	results  map[uint32][]int32
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &fakeDaemon{ln: ln, results: map[uint32][]int32{}}
	go d.serve()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *fakeDaemon) addr() string { return d.ln.Addr().String() }

func (d *fakeDaemon) queue(cmd uint32, results ...int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[cmd] = append(d.results[cmd], results...)
}

func (d *fakeDaemon) recorded() []request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]request(nil), d.requests...)
}

func (d *fakeDaemon) nextResult(cmd uint32) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.results[cmd]
	if len(q) == 0 {
		return 0
	}
	res := q[0]
	d.results[cmd] = q[1:]
	return res
}

func (d *fakeDaemon) serve() {
	conn, err := d.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var hdr [16]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		req := request{
			cmd: binary.LittleEndian.Uint32(hdr[0:4]),
			p1:  binary.LittleEndian.Uint32(hdr[4:8]),
			p2:  binary.LittleEndian.Uint32(hdr[8:12]),
		}
		extLen := binary.LittleEndian.Uint32(hdr[12:16])
		if extLen > 0 {
			req.ext = make([]byte, extLen)
			if _, err := io.ReadFull(conn, req.ext); err != nil {
				return
			}
		}

		d.mu.Lock()
		d.requests = append(d.requests, req)
		d.mu.Unlock()

		var resp [16]byte
		copy(resp[0:12], hdr[0:12])
		binary.LittleEndian.PutUint32(resp[12:16], uint32(d.nextResult(req.cmd)))
		if _, err := conn.Write(resp[:]); err != nil {
			return
		}
	}
}

func dialTest(t *testing.T, d *fakeDaemon, gpio uint32) *Client {
	t.Helper()
	c, err := Dial(d.addr(), gpio)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.conn.Close() })
	return c
}

func TestDialClaimsOutputLine(t *testing.T) {
	d := newFakeDaemon(t)
	dialTest(t, d, 18)

	reqs := d.recorded()
	assert.Len(t, reqs, 1)
	assert.Equal(t, cmdModes, reqs[0].cmd)
	assert.Equal(t, uint32(18), reqs[0].p1)
	assert.Equal(t, pinModeOutput, reqs[0].p2)
}

func TestDialRejectedByDaemon(t *testing.T) {
	d := newFakeDaemon(t)
	d.queue(cmdModes, -3)

	_, err := Dial(d.addr(), 99)

	var perr Error
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, Error(-3), perr)
}

func TestSetCarrier(t *testing.T) {
	d := newFakeDaemon(t)
	c := dialTest(t, d, 18)

	assert.NoError(t, c.SetCarrier(38000, 500))
	assert.NoError(t, c.SetCarrier(0, 0))

	reqs := d.recorded()[1:]
	assert.Len(t, reqs, 2)

	on := reqs[0]
	assert.Equal(t, cmdHP, on.cmd)
	assert.Equal(t, uint32(18), on.p1)
	assert.Equal(t, uint32(38000), on.p2)
	// 50% duty on the daemon's millionths scale.
	assert.Equal(t, uint32(500_000), binary.LittleEndian.Uint32(on.ext))

	off := reqs[1]
	assert.Equal(t, cmdHP, off.cmd)
	assert.Equal(t, uint32(0), off.p2)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(off.ext))
}

func TestSetCarrierError(t *testing.T) {
	d := newFakeDaemon(t)
	c := dialTest(t, d, 18)
	d.queue(cmdHP, -4)

	err := c.SetCarrier(38000, 500)

	var perr Error
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, Error(-4), perr)
	assert.Contains(t, err.Error(), "bad mode")
}

func TestSendPulsesWaveSequence(t *testing.T) {
	d := newFakeDaemon(t)
	c := dialTest(t, d, 17)
	d.queue(cmdWvCre, 7)
	d.queue(cmdWvBsy, 1, 0)

	assert.NoError(t, c.SendPulses([]uint32{9000, 4500, 560}))

	reqs := d.recorded()[1:]
	var cmds []uint32
	for _, r := range reqs {
		cmds = append(cmds, r.cmd)
	}
	assert.Equal(t, []uint32{cmdWvClr, cmdWvAG, cmdWvCre, cmdWvTx, cmdWvBsy, cmdWvBsy, cmdWvDel}, cmds)

	// The created wave id is the one transmitted and deleted.
	assert.Equal(t, uint32(7), reqs[3].p1)
	assert.Equal(t, uint32(7), reqs[6].p1)

	// Pulse triplets: marks drive the line high, spaces drive it low.
	mask := uint32(1) << 17
	ext := reqs[1].ext
	assert.Len(t, ext, 3*12)
	want := []uint32{
		mask, 0, 9000,
		0, mask, 4500,
		mask, 0, 560,
	}
	for i, w := range want {
		got := binary.LittleEndian.Uint32(ext[i*4 : i*4+4])
		assert.Equal(t, w, got, "word %d", i)
	}
}

func TestSendPulsesEmptyFrame(t *testing.T) {
	d := newFakeDaemon(t)
	c := dialTest(t, d, 17)

	assert.NoError(t, c.SendPulses(nil))
	assert.Len(t, d.recorded(), 1) // only the Dial mode request
}

func TestSendPulsesDeletesWaveOnTransmitError(t *testing.T) {
	d := newFakeDaemon(t)
	c := dialTest(t, d, 17)
	d.queue(cmdWvCre, 3)
	d.queue(cmdWvTx, -9)

	err := c.SendPulses([]uint32{560, 560, 560})

	assert.Error(t, err)
	assert.True(t, errors.As(err, new(Error)))

	reqs := d.recorded()
	last := reqs[len(reqs)-1]
	assert.Equal(t, cmdWvDel, last.cmd)
	assert.Equal(t, uint32(3), last.p1)
}

func TestCloseSwitchesCarrierOff(t *testing.T) {
	d := newFakeDaemon(t)
	c, err := Dial(d.addr(), 18)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	assert.NoError(t, c.Close())

	reqs := d.recorded()
	last := reqs[len(reqs)-1]
	assert.Equal(t, cmdHP, last.cmd)
	assert.Equal(t, uint32(0), last.p2)
}
