package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"aircon-controller/internal/ir"
	"aircon-controller/internal/pigpio"
)

// ServerConfig - HTTP/WebSocket server settings
type ServerConfig struct {
	Port           string   `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// PigpioConfig - pigpio daemon connection and IR output line settings
type PigpioConfig struct {
	Address      string  `json:"address"` // HOST:PORT of pigpiod
	GPIO         uint32  `json:"gpio"`
	CarrierHz    uint32  `json:"carrier_hz"`
	DutyPermille uint32  `json:"duty_permille"`
	RateLimit    float64 `json:"command_rate_limit"` // frames per second
	RateBurst    int     `json:"command_rate_burst"`
}

// CodesConfig - the IR code table of the controlled unit. Omit the whole
// section to use the built-in table. Byte values accept JSON numbers or
// hex strings ("0x30").
type CodesConfig struct {
	Address   HexByte            `json:"address"`
	PowerOn   HexByte            `json:"power_on"`
	PowerOff  HexByte            `json:"power_off"`
	Modes     map[string]HexByte `json:"modes"`
	FanSpeeds map[string]HexByte `json:"fan_speeds"`
	TempBase  HexByte            `json:"temp_base"`
	TempMin   int                `json:"temp_min"`
	TempMax   int                `json:"temp_max"`
}

// MQTTConfig - MQTT and Home Assistant Discovery settings
type MQTTConfig struct {
	Enabled            bool   `json:"enabled"`
	Broker             string `json:"broker"` // tcp://IP:PORT
	Username           string `json:"username"`
	Password           string `json:"password"`
	ClientID           string `json:"client_id"`
	TopicPrefix        string `json:"topic_prefix"`
	HADiscoveryEnabled bool   `json:"ha_discovery_enabled"`
	HADiscoveryPrefix  string `json:"ha_discovery_prefix"`
}

// Config - top level structure
type Config struct {
	Server ServerConfig `json:"server"`
	Pigpio PigpioConfig `json:"pigpio"`
	Codes  CodesConfig  `json:"codes"`
	MQTT   MQTTConfig   `json:"mqtt"`

	// File system settings
	ScenesDir     string `json:"scenes_dir"`
	SchedulesFile string `json:"schedules_file"`
	JournalFile   string `json:"journal_file"`

	LogLevel string `json:"log_level"`
}

// Load reads the file, parses JSON and applies validation/defaults
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			cfg.setDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}
	defer file.Close()

	cfg := &Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}

	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) sanitize() {
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Pigpio.Address = strings.TrimSpace(c.Pigpio.Address)
	c.ScenesDir = strings.TrimSpace(c.ScenesDir)
	c.SchedulesFile = strings.TrimSpace(c.SchedulesFile)
	c.JournalFile = strings.TrimSpace(c.JournalFile)
	c.LogLevel = strings.TrimSpace(c.LogLevel)
}

func (c *Config) setDefaults() {
	// Server Defaults
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:8080"}
	}

	// Pigpio Defaults
	if c.Pigpio.Address == "" {
		c.Pigpio.Address = pigpio.DefaultAddr
	}
	if c.Pigpio.GPIO == 0 {
		c.Pigpio.GPIO = 17
	}
	if c.Pigpio.CarrierHz == 0 {
		c.Pigpio.CarrierHz = ir.CarrierFrequencyHz
	}
	if c.Pigpio.DutyPermille == 0 {
		c.Pigpio.DutyPermille = ir.CarrierDutyPermille
	}
	if c.Pigpio.RateLimit <= 0 {
		c.Pigpio.RateLimit = 2.0
	}
	if c.Pigpio.RateBurst <= 0 {
		c.Pigpio.RateBurst = 4
	}

	// Codes Defaults: only when the section is absent entirely. A partial
	// table is used as written, never mixed with the built-in one.
	if c.Codes.isZero() {
		c.Codes = defaultCodes()
	}

	// File Defaults
	if c.ScenesDir == "" {
		c.ScenesDir = "scenes"
	}
	if c.SchedulesFile == "" {
		c.SchedulesFile = "schedules.json"
	}
	if c.JournalFile == "" {
		c.JournalFile = "journal.db"
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// MQTT Defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "aircon-controller"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "aircon"
	}
	if c.MQTT.HADiscoveryPrefix == "" {
		c.MQTT.HADiscoveryPrefix = "homeassistant"
	}
}

func (c *Config) validate() error {
	if c.Pigpio.GPIO > 31 {
		// Waveform pulses address lines through a 32-bit mask.
		return fmt.Errorf("config error: 'pigpio.gpio' must be 0-31, got %d", c.Pigpio.GPIO)
	}
	if c.Pigpio.DutyPermille > 1000 {
		return fmt.Errorf("config error: 'pigpio.duty_permille' must be 0-1000, got %d", c.Pigpio.DutyPermille)
	}
	if c.Pigpio.RateLimit <= 0 {
		return fmt.Errorf("config error: 'command_rate_limit' must be positive")
	}
	if _, err := c.CodeTable(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

// CodeTable converts the codes section into the encoder's table form,
// rejecting unknown mode or fan speed names and a broken temperature range.
func (c *Config) CodeTable() (ir.CodeTable, error) {
	table := ir.CodeTable{
		Address:   uint8(c.Codes.Address),
		PowerOn:   uint8(c.Codes.PowerOn),
		PowerOff:  uint8(c.Codes.PowerOff),
		Modes:     make(map[ir.Mode]uint8, len(c.Codes.Modes)),
		FanSpeeds: make(map[ir.FanSpeed]uint8, len(c.Codes.FanSpeeds)),
		TempBase:  uint8(c.Codes.TempBase),
		TempMin:   c.Codes.TempMin,
		TempMax:   c.Codes.TempMax,
	}
	for name, cmd := range c.Codes.Modes {
		mode, err := ir.ParseMode(name)
		if err != nil {
			return ir.CodeTable{}, fmt.Errorf("codes.modes: %w", err)
		}
		table.Modes[mode] = uint8(cmd)
	}
	for name, cmd := range c.Codes.FanSpeeds {
		speed, err := ir.ParseFanSpeed(name)
		if err != nil {
			return ir.CodeTable{}, fmt.Errorf("codes.fan_speeds: %w", err)
		}
		table.FanSpeeds[speed] = uint8(cmd)
	}
	if table.TempMin > table.TempMax {
		return ir.CodeTable{}, fmt.Errorf("codes: temp_min %d above temp_max %d", table.TempMin, table.TempMax)
	}
	if table.TempMax-table.TempMin > 0xFF-int(table.TempBase) {
		return ir.CodeTable{}, fmt.Errorf("codes: temperature range %d-%d overflows command byte from base 0x%02X",
			table.TempMin, table.TempMax, table.TempBase)
	}
	return table, nil
}

func (cc *CodesConfig) isZero() bool {
	return cc.Address == 0 && cc.PowerOn == 0 && cc.PowerOff == 0 &&
		len(cc.Modes) == 0 && len(cc.FanSpeeds) == 0 &&
		cc.TempBase == 0 && cc.TempMin == 0 && cc.TempMax == 0
}

func defaultCodes() CodesConfig {
	table := ir.DefaultCodeTable()
	codes := CodesConfig{
		Address:   HexByte(table.Address),
		PowerOn:   HexByte(table.PowerOn),
		PowerOff:  HexByte(table.PowerOff),
		Modes:     make(map[string]HexByte, len(table.Modes)),
		FanSpeeds: make(map[string]HexByte, len(table.FanSpeeds)),
		TempBase:  HexByte(table.TempBase),
		TempMin:   table.TempMin,
		TempMax:   table.TempMax,
	}
	for mode, cmd := range table.Modes {
		codes.Modes[string(mode)] = HexByte(cmd)
	}
	for speed, cmd := range table.FanSpeeds {
		codes.FanSpeeds[string(speed)] = HexByte(cmd)
	}
	return codes
}
