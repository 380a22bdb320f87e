package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"aircon-controller/internal/core"
	"aircon-controller/internal/logger"

	"github.com/robfig/cron/v3"
)

// ScheduleEntry defines the structure for a saved schedule.
type ScheduleEntry struct {
	Spec    string `json:"spec"`
	Command string `json:"command"`
}

// Scheduler manages all cron-related tasks.
type Scheduler struct {
	cron           *cron.Cron
	store          map[cron.EntryID]ScheduleEntry
	commandChannel core.CommandChannel
	mu             sync.RWMutex
	schedulesFile  string
}

// NewScheduler creates and loads a scheduler.
func NewScheduler(cmdChan core.CommandChannel, schedulesFile string) *Scheduler {
	s := &Scheduler{
		cron:           cron.New(),
		store:          make(map[cron.EntryID]ScheduleEntry),
		commandChannel: cmdChan,
		schedulesFile:  schedulesFile,
	}
	s.load()
	return s
}

// Start begins the cron job ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("[Scheduler] started")
}

// Stop halts the cron job ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	logger.Info("[Scheduler] stopped")
}

// Add creates a new cron job. Both the cron spec and the command string are
// validated here so a broken schedule is rejected at creation, not at the
// first tick.
func (s *Scheduler) Add(spec, command string) (int, error) {
	if _, err := parseCommand(command); err != nil {
		return 0, fmt.Errorf("invalid schedule command: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.execute(command) })
	if err != nil {
		return 0, fmt.Errorf("invalid cron spec '%s': %w", spec, err)
	}
	s.store[id] = ScheduleEntry{Spec: spec, Command: command}
	s.save()
	logger.Info("[Scheduler] added schedule (ID %d): %s -> %s", id, spec, command)
	return int(id), nil
}

// Remove deletes a cron job.
func (s *Scheduler) Remove(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := cron.EntryID(id)
	if _, ok := s.store[entryID]; !ok {
		return fmt.Errorf("schedule %d not found", id)
	}
	s.cron.Remove(entryID)
	delete(s.store, entryID)
	s.save()
	logger.Info("[Scheduler] removed schedule (ID %d)", id)
	return nil
}

// GetAll returns a copy of the current schedules in a thread-safe way.
func (s *Scheduler) GetAll() map[cron.EntryID]ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	newMap := make(map[cron.EntryID]ScheduleEntry)
	for k, v := range s.store {
		newMap[k] = v
	}
	return newMap
}

// parseCommand maps a schedule command string to the agent command it
// fires. Supported forms: "power on|off", "mode <name>", "temp <celsius>",
// "fan <speed>", "scene <name>", "stop".
func parseCommand(command string) (core.Command, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return core.Command{}, fmt.Errorf("empty command")
	}

	arg := func() string {
		if len(parts) > 1 {
			return parts[1]
		}
		return ""
	}

	switch parts[0] {
	case "power":
		switch arg() {
		case "on":
			return core.Command{Type: core.CmdSetPower, Payload: map[string]interface{}{"isOn": true}}, nil
		case "off":
			return core.Command{Type: core.CmdSetPower, Payload: map[string]interface{}{"isOn": false}}, nil
		}
		return core.Command{}, fmt.Errorf("power needs 'on' or 'off', got %q", arg())
	case "mode":
		if arg() == "" {
			return core.Command{}, fmt.Errorf("mode needs a name")
		}
		return core.Command{Type: core.CmdSetMode, Payload: map[string]interface{}{"mode": arg()}}, nil
	case "temp", "temperature":
		celsius, err := strconv.Atoi(arg())
		if err != nil {
			return core.Command{}, fmt.Errorf("temperature needs a number, got %q", arg())
		}
		return core.Command{Type: core.CmdSetTemperature, Payload: map[string]interface{}{"celsius": float64(celsius)}}, nil
	case "fan":
		if arg() == "" {
			return core.Command{}, fmt.Errorf("fan needs a speed")
		}
		return core.Command{Type: core.CmdSetFanSpeed, Payload: map[string]interface{}{"speed": arg()}}, nil
	case "scene":
		if arg() == "" {
			return core.Command{}, fmt.Errorf("scene needs a name")
		}
		return core.Command{Type: core.CmdRunScene, Payload: map[string]interface{}{"name": arg()}}, nil
	case "stop":
		return core.Command{Type: core.CmdStopScene}, nil
	}
	return core.Command{}, fmt.Errorf("unknown command %q", parts[0])
}

func (s *Scheduler) execute(command string) {
	logger.Info("[Scheduler] executing: %s", command)
	cmd, err := parseCommand(command)
	if err != nil {
		// Add validated the string, but the file on disk may carry
		// anything.
		logger.Warn("[Scheduler] skipping schedule: %v", err)
		return
	}
	cmd.Source = "scheduler"
	select {
	case s.commandChannel <- cmd:
	default:
		logger.Warn("[Scheduler] command channel full, dropping: %s", command)
	}
}

func (s *Scheduler) save() {
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		logger.Error("[Scheduler] marshalling schedules: %v", err)
		return
	}
	if err := os.WriteFile(s.schedulesFile, data, 0644); err != nil {
		logger.Error("[Scheduler] writing '%s': %v", s.schedulesFile, err)
	}
}

func (s *Scheduler) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.schedulesFile); os.IsNotExist(err) {
		return
	}
	data, err := os.ReadFile(s.schedulesFile)
	if err != nil {
		logger.Error("[Scheduler] reading schedule file: %v", err)
		return
	}

	tempStore := make(map[cron.EntryID]ScheduleEntry)
	if err := json.Unmarshal(data, &tempStore); err != nil {
		logger.Error("[Scheduler] unmarshalling schedule file: %v", err)
		return
	}

	logger.Info("[Scheduler] loading %d schedules from '%s'", len(tempStore), s.schedulesFile)
	for _, entry := range tempStore {
		jobEntry := entry
		newID, err := s.cron.AddFunc(jobEntry.Spec, func() { s.execute(jobEntry.Command) })
		if err != nil {
			logger.Warn("[Scheduler] re-adding schedule from file: %v", err)
			continue
		}
		s.store[newID] = jobEntry
	}
}
