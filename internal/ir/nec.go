// Package ir encodes air conditioner control intents into NEC infrared
// pulse frames and drives them out through a pulse transmitter.
package ir

import "time"

// NEC protocol timings. See https://www.sbprojects.net/knowledge/ir/nec.php
const (
	// CarrierFrequencyHz is the modulation frequency applied while a mark
	// is being transmitted.
	CarrierFrequencyHz = 38_000
	// CarrierDutyPermille is the carrier duty cycle, 500 = 50%.
	CarrierDutyPermille = 500

	headerMarkUs  = 9000
	headerSpaceUs = 4500
	bitMarkUs     = 560
	oneSpaceUs    = 1690
	zeroSpaceUs   = 560
	stopMarkUs    = 560

	// FrameLen is the entry count of a full frame: the header pair, two
	// entries per bit for 32 bits, and the stop mark.
	FrameLen = 2 + 32*2 + 1
)

// Frame is one transmission as alternating mark/space durations in
// microseconds. Entries at even indices are marks (carrier on), entries at
// odd indices are spaces (carrier off).
type Frame []uint32

// EncodeFrame builds the NEC frame for a code: header, then the address,
// inverted address, command and inverted command bytes least significant
// bit first, then the stop mark. Bit values live in the space lengths.
func EncodeFrame(code Code) Frame {
	frame := make(Frame, 0, FrameLen)
	frame = append(frame, headerMarkUs, headerSpaceUs)
	for _, b := range [4]uint8{code.Address, ^code.Address, code.Command, ^code.Command} {
		for i := 0; i < 8; i++ {
			frame = append(frame, bitMarkUs)
			if b&(1<<i) != 0 {
				frame = append(frame, oneSpaceUs)
			} else {
				frame = append(frame, zeroSpaceUs)
			}
		}
	}
	return append(frame, stopMarkUs)
}

// Duration returns the on-air time of the frame.
func (f Frame) Duration() time.Duration {
	var total uint64
	for _, d := range f {
		total += uint64(d)
	}
	return time.Duration(total) * time.Microsecond
}

// RawCode packs a code into the 32-bit value commonly printed in remote
// control dumps: address in the low byte through inverted command in the
// high byte.
func RawCode(code Code) uint32 {
	return uint32(code.Address) |
		uint32(^code.Address)<<8 |
		uint32(code.Command)<<16 |
		uint32(^code.Command)<<24
}

// SplitRawCode unpacks a 32-bit raw value and verifies its complement
// bytes. ok is false when either check byte does not match.
func SplitRawCode(raw uint32) (code Code, ok bool) {
	code = Code{Address: uint8(raw), Command: uint8(raw >> 16)}
	if uint8(raw>>8) != ^code.Address || uint8(raw>>24) != ^code.Command {
		return Code{}, false
	}
	return code, true
}
