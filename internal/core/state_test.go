package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateCloneIsSnapshot(t *testing.T) {
	s := NewState()
	s.SetPower(true)
	s.SetMode("cool")
	s.SetTemperature(24)
	s.SetFanSpeed("auto")

	snap := s.Clone()
	s.SetTemperature(18)

	assert.True(t, snap.Power)
	assert.Equal(t, "cool", snap.Mode)
	assert.Equal(t, 24, snap.Temperature)
	assert.Equal(t, "auto", snap.FanSpeed)
	assert.Equal(t, 18, s.Clone().Temperature)
}

func TestStateConcurrentAccess(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			s.SetTemperature(16 + n%15)
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Clone()
		}()
	}
	wg.Wait()

	snap := s.Clone()
	assert.GreaterOrEqual(t, snap.Temperature, 16)
	assert.LessOrEqual(t, snap.Temperature, 30)
}
