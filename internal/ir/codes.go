package ir

import (
	"errors"
	"fmt"
)

// Mode is an operating mode of the unit.
type Mode string

const (
	ModeCool Mode = "cool"
	ModeHeat Mode = "heat"
	ModeFan  Mode = "fan"
	ModeDry  Mode = "dry"
	ModeAuto Mode = "auto"
)

// FanSpeed is a fan speed setting of the unit.
type FanSpeed string

const (
	FanLow    FanSpeed = "low"
	FanMedium FanSpeed = "medium"
	FanHigh   FanSpeed = "high"
	FanAuto   FanSpeed = "auto"
)

var (
	// ErrUnknownMode reports a mode name outside the closed set.
	ErrUnknownMode = errors.New("unknown mode")
	// ErrUnknownFanSpeed reports a fan speed name outside the closed set.
	ErrUnknownFanSpeed = errors.New("unknown fan speed")
	// ErrTemperatureOutOfRange reports a target temperature the unit cannot hold.
	ErrTemperatureOutOfRange = errors.New("temperature out of range")
)

// ParseMode validates a mode name coming from config or a remote surface.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCool, ModeHeat, ModeFan, ModeDry, ModeAuto:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// ParseFanSpeed validates a fan speed name coming from config or a remote surface.
func ParseFanSpeed(s string) (FanSpeed, error) {
	switch FanSpeed(s) {
	case FanLow, FanMedium, FanHigh, FanAuto:
		return FanSpeed(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFanSpeed, s)
}

// Code is one addressed command ready for frame encoding.
type Code struct {
	Address uint8
	Command uint8
}

// CodeTable holds the command bytes a particular unit responds to. Most
// vendors reuse the same scheme with different values, so the table is
// data, not code.
type CodeTable struct {
	Address   uint8
	PowerOn   uint8
	PowerOff  uint8
	Modes     map[Mode]uint8
	FanSpeeds map[FanSpeed]uint8
	// Temperature commands are TempBase + (celsius - TempMin) for targets
	// in [TempMin, TempMax].
	TempBase uint8
	TempMin  int
	TempMax  int
}

// DefaultCodeTable returns the table for the reference unit.
func DefaultCodeTable() CodeTable {
	return CodeTable{
		Address:  0x00,
		PowerOn:  0x08,
		PowerOff: 0x09,
		Modes: map[Mode]uint8{
			ModeCool: 0x30,
			ModeHeat: 0x31,
			ModeFan:  0x32,
			ModeDry:  0x33,
			ModeAuto: 0x34,
		},
		FanSpeeds: map[FanSpeed]uint8{
			FanLow:    0x40,
			FanMedium: 0x41,
			FanHigh:   0x42,
			FanAuto:   0x43,
		},
		TempBase: 0x10,
		TempMin:  16,
		TempMax:  30,
	}
}

// Encoder turns control intents into codes using one unit's table.
type Encoder struct {
	table CodeTable
}

// NewEncoder creates an Encoder for the given table.
func NewEncoder(table CodeTable) *Encoder {
	return &Encoder{table: table}
}

// EncodePower builds the power on/off code.
func (e *Encoder) EncodePower(isOn bool) Code {
	cmd := e.table.PowerOff
	if isOn {
		cmd = e.table.PowerOn
	}
	return Code{Address: e.table.Address, Command: cmd}
}

// EncodeMode builds the operating mode code.
func (e *Encoder) EncodeMode(mode Mode) (Code, error) {
	cmd, ok := e.table.Modes[mode]
	if !ok {
		return Code{}, fmt.Errorf("%w: %q", ErrUnknownMode, string(mode))
	}
	return Code{Address: e.table.Address, Command: cmd}, nil
}

// EncodeTemperature builds the target temperature code.
func (e *Encoder) EncodeTemperature(celsius int) (Code, error) {
	if celsius < e.table.TempMin || celsius > e.table.TempMax {
		return Code{}, fmt.Errorf("%w: %d (supported %d-%d)",
			ErrTemperatureOutOfRange, celsius, e.table.TempMin, e.table.TempMax)
	}
	cmd := e.table.TempBase + uint8(celsius-e.table.TempMin)
	return Code{Address: e.table.Address, Command: cmd}, nil
}

// EncodeFanSpeed builds the fan speed code.
func (e *Encoder) EncodeFanSpeed(speed FanSpeed) (Code, error) {
	cmd, ok := e.table.FanSpeeds[speed]
	if !ok {
		return Code{}, fmt.Errorf("%w: %q", ErrUnknownFanSpeed, string(speed))
	}
	return Code{Address: e.table.Address, Command: cmd}, nil
}
