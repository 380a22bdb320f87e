package ir

import (
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
)

// decodeFrameByte reads one of the four data bytes back out of a frame by
// classifying each bit's space length.
func decodeFrameByte(frame Frame, field int) uint8 {
	var b uint8
	start := 2 + field*16
	for i := 0; i < 8; i++ {
		space := frame[start+2*i+1]
		if space > 1000 {
			b |= 1 << i
		}
	}
	return b
}

type rawCodeTestData struct {
	Raw     uint32
	Address uint8
	Command uint8
}

// Helper function to run raw code decoding tests
func splitRawCodeTests(t *testing.T, tests []rawCodeTestData, expectedOK bool) {
	c := qt.New(t)

	for _, data := range tests {
		name := fmt.Sprintf("Split:Raw:%08x Addr:%02x Cmd:%02x",
			data.Raw, data.Address, data.Command)
		c.Run(name, func(c *qt.C) {
			code, ok := SplitRawCode(data.Raw)
			c.Assert(ok, qt.Equals, expectedOK)
			if ok {
				c.Assert(code.Address, qt.Equals, data.Address)
				c.Assert(code.Command, qt.Equals, data.Command)
			}
		})
	}
}

// Helper function to run raw code packing tests
func rawCodeTests(t *testing.T, tests []rawCodeTestData) {
	c := qt.New(t)

	for _, data := range tests {
		name := fmt.Sprintf("Pack:Raw:%08x Addr:%02x Cmd:%02x",
			data.Raw, data.Address, data.Command)
		c.Run(name, func(c *qt.C) {
			raw := RawCode(Code{Address: data.Address, Command: data.Command})
			c.Assert(raw, qt.Equals, data.Raw)
		})
	}
}

func TestRawCodeRoundTrip(t *testing.T) {
	tests := []rawCodeTestData{
		{Raw: 0xFF00FF00, Address: 0x00, Command: 0x00},
		{Raw: 0xF708FF00, Address: 0x00, Command: 0x08},
		{Raw: 0xF609FF00, Address: 0x00, Command: 0x09},
		{Raw: 0xCF30FF00, Address: 0x00, Command: 0x30},
		{Raw: 0xEF10FF00, Address: 0x00, Command: 0x10},
		{Raw: 0xE11EFE01, Address: 0x01, Command: 0x1E},
		{Raw: 0x00FF00FF, Address: 0xFF, Command: 0xFF},
	}
	splitRawCodeTests(t, tests, true)
	rawCodeTests(t, tests)
}

func TestSplitRawCodeRejectsBrokenComplements(t *testing.T) {
	splitRawCodeTests(t,
		[]rawCodeTestData{
			// Single flipped bit in the inverted address byte
			{Raw: 0xF708FE00},
			{Raw: 0xF708BF00},
			// Single flipped bit in the inverted command byte
			{Raw: 0xF608FF00},
			{Raw: 0x7708FF00},
			// All four bytes equal
			{Raw: 0x08080808},
		},
		false)
}

func TestEncodeFrameStructure(t *testing.T) {
	c := qt.New(t)

	codes := []Code{
		{Address: 0x00, Command: 0x08},
		{Address: 0x00, Command: 0x30},
		{Address: 0xA5, Command: 0x5A},
		{Address: 0xFF, Command: 0x00},
	}
	for _, code := range codes {
		c.Run(fmt.Sprintf("Addr:%02x Cmd:%02x", code.Address, code.Command), func(c *qt.C) {
			frame := EncodeFrame(code)

			c.Assert(frame, qt.HasLen, FrameLen)
			c.Assert(frame[0], qt.Equals, uint32(9000))
			c.Assert(frame[1], qt.Equals, uint32(4500))
			c.Assert(frame[len(frame)-1], qt.Equals, uint32(560))

			// Every mark after the header is the bit mark; every space
			// encodes exactly one of the two defined bit lengths.
			for i := 2; i < len(frame); i++ {
				if i%2 == 0 {
					c.Assert(frame[i], qt.Equals, uint32(560))
				} else {
					isOne := frame[i] == uint32(1690)
					isZero := frame[i] == uint32(560)
					c.Assert(isOne || isZero, qt.Equals, true)
				}
			}
		})
	}
}

func TestEncodeFrameBitOrder(t *testing.T) {
	c := qt.New(t)

	// 0x08: only bit 3 set, sent LSB first, so the fourth space is long.
	frame := EncodeFrame(Code{Address: 0x00, Command: 0x08})

	wantCmdSpaces := []uint32{560, 560, 560, 1690, 560, 560, 560, 560}
	start := 2 + 2*16 // command is the third data field
	for i, want := range wantCmdSpaces {
		c.Assert(frame[start+2*i+1], qt.Equals, want, qt.Commentf("command bit %d", i))
	}

	// Address 0x00: all short spaces; inverted address 0xFF: all long.
	for i := 0; i < 8; i++ {
		c.Assert(frame[2+2*i+1], qt.Equals, uint32(560))
		c.Assert(frame[2+16+2*i+1], qt.Equals, uint32(1690))
	}

	// The first transmitted bit is bit 0: set for 0x01, clear for 0x80.
	frame = EncodeFrame(Code{Address: 0x01, Command: 0x00})
	c.Assert(frame[2], qt.Equals, uint32(560))
	c.Assert(frame[3], qt.Equals, uint32(1690))

	frame = EncodeFrame(Code{Address: 0x80, Command: 0x00})
	c.Assert(frame[2], qt.Equals, uint32(560))
	c.Assert(frame[3], qt.Equals, uint32(560))
}

func TestEncodeFrameComplementFields(t *testing.T) {
	c := qt.New(t)

	for v := 0; v < 256; v++ {
		b := uint8(v)
		frame := EncodeFrame(Code{Address: b, Command: b})

		c.Assert(decodeFrameByte(frame, 0), qt.Equals, b)
		c.Assert(decodeFrameByte(frame, 1), qt.Equals, ^b)
		c.Assert(decodeFrameByte(frame, 2), qt.Equals, b)
		c.Assert(decodeFrameByte(frame, 3), qt.Equals, ^b)
	}
}

func TestEncodeFrameDeterministic(t *testing.T) {
	c := qt.New(t)

	code := Code{Address: 0x00, Command: 0x1E}
	c.Assert(EncodeFrame(code), qt.DeepEquals, EncodeFrame(code))
}

func TestFrameDuration(t *testing.T) {
	c := qt.New(t)

	// {0x00, 0xFF, 0x08, 0xF7} has 16 one bits and 16 zero bits:
	// 9000+4500 header, 33 marks of 560, 16 long and 16 short spaces.
	frame := EncodeFrame(Code{Address: 0x00, Command: 0x08})
	wantUs := 9000 + 4500 + 33*560 + 16*1690 + 16*560

	c.Assert(int(frame.Duration().Microseconds()), qt.Equals, wantUs)
}
