package core

import "sync"

// State holds the single source of truth for the unit.
//
// The IR link is one-way, so these values are assumed: they track the last
// commands that were transmitted successfully, not readings from the unit.
type State struct {
	mu                sync.RWMutex
	TransmitterOnline bool
	Power             bool
	Mode              string
	Temperature       int
	FanSpeed          string
	RunningScene      string
}

// NewState creates a new State instance.
func NewState() *State {
	return &State{}
}

// Clone returns a snapshot of the current state for safe reading.
func (s *State) Clone() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		TransmitterOnline: s.TransmitterOnline,
		Power:             s.Power,
		Mode:              s.Mode,
		Temperature:       s.Temperature,
		FanSpeed:          s.FanSpeed,
		RunningScene:      s.RunningScene,
	}
}

// SetTransmitterOnline updates the transmitter link state.
func (s *State) SetTransmitterOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TransmitterOnline = online
}

// SetPower updates the power state.
func (s *State) SetPower(power bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Power = power
}

// SetMode updates the operating mode state.
func (s *State) SetMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mode = mode
}

// SetTemperature updates the target temperature state.
func (s *State) SetTemperature(celsius int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Temperature = celsius
}

// SetFanSpeed updates the fan speed state.
func (s *State) SetFanSpeed(speed string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FanSpeed = speed
}

// SetRunningScene updates the running scene state.
func (s *State) SetRunningScene(scene string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunningScene = scene
}
