package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"aircon-controller/internal/core"
)

func newTestScheduler(t *testing.T) (*Scheduler, core.CommandChannel, string) {
	t.Helper()
	file := filepath.Join(t.TempDir(), "schedules.json")
	ch := make(core.CommandChannel, 10)
	return NewScheduler(ch, file), ch, file
}

func TestAddAndGetAll(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	id, err := s.Add("0 22 * * *", "power off")
	assert.NoError(t, err)
	assert.NotZero(t, id)

	all := s.GetAll()
	assert.Len(t, all, 1)
	for _, entry := range all {
		assert.Equal(t, "0 22 * * *", entry.Spec)
		assert.Equal(t, "power off", entry.Command)
	}
}

func TestAddRejectsBadCronSpec(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	_, err := s.Add("not a cron spec", "power on")
	assert.Error(t, err)
	assert.Empty(t, s.GetAll())
}

func TestAddRejectsBadCommand(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	cases := []string{"", "power", "power maybe", "temp warm", "frobnicate", "mode", "scene"}
	for _, command := range cases {
		_, err := s.Add("* * * * *", command)
		assert.Error(t, err, "command %q", command)
	}
	assert.Empty(t, s.GetAll())
}

func TestRemove(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	id, err := s.Add("30 6 * * 1-5", "temp 22")
	assert.NoError(t, err)

	assert.NoError(t, s.Remove(id))
	assert.Empty(t, s.GetAll())

	assert.Error(t, s.Remove(id), "removing twice must fail")
	assert.Error(t, s.Remove(9999))
}

func TestSchedulesPersistAcrossRestart(t *testing.T) {
	file := filepath.Join(t.TempDir(), "schedules.json")
	ch := make(core.CommandChannel, 10)

	s := NewScheduler(ch, file)
	_, err := s.Add("0 8 * * *", "mode cool")
	assert.NoError(t, err)
	_, err = s.Add("0 22 * * *", "power off")
	assert.NoError(t, err)

	reloaded := NewScheduler(ch, file)
	all := reloaded.GetAll()
	assert.Len(t, all, 2)

	commands := map[string]bool{}
	for _, entry := range all {
		commands[entry.Command] = true
	}
	assert.True(t, commands["mode cool"])
	assert.True(t, commands["power off"])
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		command string
		want    core.Command
	}{
		{"power on", core.Command{Type: core.CmdSetPower, Payload: map[string]interface{}{"isOn": true}}},
		{"power off", core.Command{Type: core.CmdSetPower, Payload: map[string]interface{}{"isOn": false}}},
		{"mode cool", core.Command{Type: core.CmdSetMode, Payload: map[string]interface{}{"mode": "cool"}}},
		{"temp 24", core.Command{Type: core.CmdSetTemperature, Payload: map[string]interface{}{"celsius": float64(24)}}},
		{"temperature 18", core.Command{Type: core.CmdSetTemperature, Payload: map[string]interface{}{"celsius": float64(18)}}},
		{"fan high", core.Command{Type: core.CmdSetFanSpeed, Payload: map[string]interface{}{"speed": "high"}}},
		{"scene night", core.Command{Type: core.CmdRunScene, Payload: map[string]interface{}{"name": "night"}}},
		{"stop", core.Command{Type: core.CmdStopScene}},
	}
	for _, tc := range cases {
		t.Run(tc.command, func(t *testing.T) {
			cmd, err := parseCommand(tc.command)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, cmd)
		})
	}
}

func TestExecutePushesToCommandChannel(t *testing.T) {
	s, ch, _ := newTestScheduler(t)

	s.execute("temp 24")

	cmd := <-ch
	assert.Equal(t, core.CmdSetTemperature, cmd.Type)
	assert.Equal(t, float64(24), cmd.Payload["celsius"])
	assert.Equal(t, "scheduler", cmd.Source)
}

func TestExecuteSkipsCorruptCommand(t *testing.T) {
	s, ch, _ := newTestScheduler(t)

	s.execute("frobnicate the unit")

	assert.Len(t, ch, 0)
}
