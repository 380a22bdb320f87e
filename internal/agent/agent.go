package agent

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"aircon-controller/internal/config"
	"aircon-controller/internal/core"
	"aircon-controller/internal/ir"
	"aircon-controller/internal/journal"
	"aircon-controller/internal/logger"
	"aircon-controller/internal/lua"
	"aircon-controller/internal/mqtt"
	"aircon-controller/internal/pigpio"
	"aircon-controller/internal/scheduler"
	"aircon-controller/internal/server"
)

// How long to wait before redialing pigpiod after a failure.
const transmitterRetryDelay = 10 * time.Second

// Agent wires the command sources to the transmitter and owns the loop that
// processes every command in arrival order.
type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup

	state          *core.State
	eventBus       *core.EventBus
	commandChannel core.CommandChannel

	encoder *ir.Encoder

	mu          sync.Mutex
	pigpioConn  *pigpio.Client
	transmitter *ir.Controller

	journal    *journal.Journal
	luaEngine  *lua.Engine
	scheduler  *scheduler.Scheduler
	server     *server.Server
	mqttClient *mqtt.Client
}

// NewAgent builds the agent from config. The pigpiod connection is not made
// here; Run dials it in the background so the daemon comes up even when the
// transmitter is not reachable yet.
func NewAgent(cfg *config.Config) (*Agent, error) {
	table, err := cfg.CodeTable()
	if err != nil {
		return nil, err
	}

	jrnl, err := journal.Open(cfg.JournalFile)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		ctx:            ctx,
		cancel:         cancel,
		config:         cfg,
		state:          core.NewState(),
		eventBus:       core.NewEventBus(),
		commandChannel: make(core.CommandChannel, 20),
		encoder:        ir.NewEncoder(table),
		journal:        jrnl,
	}

	a.luaEngine = lua.NewEngine(a.commandChannel, cfg.ScenesDir, a.eventBus)

	a.scheduler = scheduler.NewScheduler(a.commandChannel, cfg.SchedulesFile)

	a.server = server.NewServer(
		ctx,
		a.state,
		a.eventBus,
		a.commandChannel,
		a.luaEngine.GetSceneList,
		a.scheduler.GetAll,
		cfg.Server.Port,
		cfg.Server.AllowedOrigins,
	)

	a.mqttClient = mqtt.NewClient(ctx, cfg, a.eventBus, a.state, a.commandChannel, a.luaEngine.GetSceneList)

	return a, nil
}

// Run starts the agent orchestration loop.
func (a *Agent) Run() {
	go a.listenEvents()

	a.wg.Add(1)
	go a.connectTransmitter()

	if a.mqttClient != nil {
		go func() {
			if err := a.mqttClient.Connect(); err != nil {
				logger.Error("[Agent] MQTT setup error: %v", err)
			}
		}()
	}

	a.scheduler.Start()

	logger.Info("[Agent] Serving on http://localhost:%s", a.config.Server.Port)
	go func() {
		if err := a.server.ListenAndServe(); err != nil {
			logger.Error("[Agent] Server error: %v", err)
		}
	}()

	logger.Info("[Agent] Orchestrator ready")
	for {
		select {
		case <-a.ctx.Done():
			logger.Info("[Agent] Orchestrator shutting down...")
			return
		case cmd := <-a.commandChannel:
			a.handleCommand(cmd)
		}
	}
}

// connectTransmitter dials pigpiod until it succeeds or the agent stops.
func (a *Agent) connectTransmitter() {
	defer a.wg.Done()

	for {
		client, err := pigpio.Dial(a.config.Pigpio.Address, a.config.Pigpio.GPIO)
		if err == nil {
			a.mu.Lock()
			a.pigpioConn = client
			a.transmitter = ir.NewController(
				client,
				a.config.Pigpio.CarrierHz,
				a.config.Pigpio.DutyPermille,
				a.config.Pigpio.RateLimit,
				a.config.Pigpio.RateBurst,
			)
			a.mu.Unlock()

			logger.Info("[Agent] Transmitter ready on %s (GPIO %d)", a.config.Pigpio.Address, a.config.Pigpio.GPIO)
			a.setTransmitterOnline(true)
			return
		}

		logger.Warn("[Agent] pigpiod not reachable at %s: %v", a.config.Pigpio.Address, err)

		select {
		case <-a.ctx.Done():
			return
		case <-time.After(transmitterRetryDelay):
		}
	}
}

// markTransmitterOffline drops the failed connection and starts redialing.
// Called only from the command loop, so at most one dial loop runs at a time.
func (a *Agent) markTransmitterOffline() {
	a.mu.Lock()
	conn := a.pigpioConn
	a.pigpioConn = nil
	a.transmitter = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	a.setTransmitterOnline(false)

	if a.ctx.Err() != nil {
		return
	}
	a.wg.Add(1)
	go a.connectTransmitter()
}

func (a *Agent) setTransmitterOnline(online bool) {
	a.state.SetTransmitterOnline(online)
	a.eventBus.Publish(core.Event{
		Type:    core.TransmitterStatusEvent,
		Payload: map[string]interface{}{"online": online},
	})
}

// listenEvents keeps the central state in step with scene lifecycle events.
func (a *Agent) listenEvents() {
	sub := a.eventBus.Subscribe(core.SceneChangedEvent)

	for {
		select {
		case <-a.ctx.Done():
			return
		case event := <-sub:
			if payload, ok := event.Payload.(map[string]interface{}); ok {
				if scene, ok := payload["running"].(string); ok {
					a.state.SetRunningScene(scene)
				}
			}
		}
	}
}

func (a *Agent) handleCommand(cmd core.Command) {
	logger.Debug("[Agent] Handling %s from %s with payload %v", cmd.Type, cmd.Source, cmd.Payload)

	switch cmd.Type {
	case core.CmdSetPower:
		isOn, ok := cmd.Payload["isOn"].(bool)
		if !ok {
			a.rejectTransmit(cmd.Source, "power", "", fmt.Errorf("payload field 'isOn' must be a boolean"))
			return
		}

		a.stopSceneForManualCommand(cmd.Source)

		argument := "off"
		if isOn {
			argument = "on"
		}
		if a.transmit(cmd.Source, "power", argument, a.encoder.EncodePower(isOn)) {
			a.state.SetPower(isOn)
			a.publishState()
		}

	case core.CmdSetMode:
		name, ok := cmd.Payload["mode"].(string)
		if !ok {
			a.rejectTransmit(cmd.Source, "mode", "", fmt.Errorf("payload field 'mode' must be a string"))
			return
		}
		mode, err := ir.ParseMode(name)
		if err != nil {
			a.rejectTransmit(cmd.Source, "mode", name, err)
			return
		}
		code, err := a.encoder.EncodeMode(mode)
		if err != nil {
			a.rejectTransmit(cmd.Source, "mode", name, err)
			return
		}

		a.stopSceneForManualCommand(cmd.Source)

		if a.transmit(cmd.Source, "mode", string(mode), code) {
			a.state.SetMode(string(mode))
			// A mode code wakes the unit; mirror that in the assumed state.
			a.state.SetPower(true)
			a.publishState()
		}

	case core.CmdSetTemperature:
		value, ok := cmd.Payload["celsius"].(float64)
		if !ok {
			a.rejectTransmit(cmd.Source, "temperature", "", fmt.Errorf("payload field 'celsius' must be a number"))
			return
		}
		celsius := int(value)
		code, err := a.encoder.EncodeTemperature(celsius)
		if err != nil {
			a.rejectTransmit(cmd.Source, "temperature", strconv.Itoa(celsius), err)
			return
		}

		a.stopSceneForManualCommand(cmd.Source)

		if a.transmit(cmd.Source, "temperature", strconv.Itoa(celsius), code) {
			a.state.SetTemperature(celsius)
			a.publishState()
		}

	case core.CmdSetFanSpeed:
		name, ok := cmd.Payload["speed"].(string)
		if !ok {
			a.rejectTransmit(cmd.Source, "fan", "", fmt.Errorf("payload field 'speed' must be a string"))
			return
		}
		speed, err := ir.ParseFanSpeed(name)
		if err != nil {
			a.rejectTransmit(cmd.Source, "fan", name, err)
			return
		}
		code, err := a.encoder.EncodeFanSpeed(speed)
		if err != nil {
			a.rejectTransmit(cmd.Source, "fan", name, err)
			return
		}

		a.stopSceneForManualCommand(cmd.Source)

		if a.transmit(cmd.Source, "fan", string(speed), code) {
			a.state.SetFanSpeed(string(speed))
			a.publishState()
		}

	case core.CmdRunScene:
		name, ok := cmd.Payload["name"].(string)
		if !ok || name == "" {
			a.rejectCommand(cmd, fmt.Errorf("payload field 'name' must be a non-empty string"))
			return
		}
		a.luaEngine.RunScene(name)

	case core.CmdStopScene:
		a.luaEngine.StopCurrentScene()

	case core.CmdAddSchedule:
		spec, _ := cmd.Payload["spec"].(string)
		command, _ := cmd.Payload["command"].(string)
		if _, err := a.scheduler.Add(spec, command); err != nil {
			a.rejectCommand(cmd, err)
			return
		}
		a.publishSchedules()

	case core.CmdRemoveSchedule:
		id, err := scheduleID(cmd.Payload["id"])
		if err != nil {
			a.rejectCommand(cmd, err)
			return
		}
		if err := a.scheduler.Remove(id); err != nil {
			a.rejectCommand(cmd, err)
			return
		}
		a.publishSchedules()

	case core.CmdGetSceneCode:
		name, ok := cmd.Payload["name"].(string)
		if !ok {
			a.rejectCommand(cmd, fmt.Errorf("payload field 'name' must be a string"))
			return
		}
		code, err := a.luaEngine.GetSceneCode(name)
		if err != nil {
			a.rejectCommand(cmd, err)
			return
		}
		a.broadcast("scene_code", map[string]string{"name": name, "code": code})

	case core.CmdSaveSceneCode:
		name, nameOk := cmd.Payload["name"].(string)
		code, codeOk := cmd.Payload["code"].(string)
		if !nameOk || !codeOk {
			a.rejectCommand(cmd, fmt.Errorf("payload fields 'name' and 'code' must be strings"))
			return
		}
		if err := a.luaEngine.SaveSceneCode(name, code); err != nil {
			a.rejectCommand(cmd, err)
			return
		}
		a.publishScenes()

	case core.CmdDeleteScene:
		name, ok := cmd.Payload["name"].(string)
		if !ok {
			a.rejectCommand(cmd, fmt.Errorf("payload field 'name' must be a string"))
			return
		}
		if err := a.luaEngine.DeleteScene(name); err != nil {
			a.rejectCommand(cmd, err)
			return
		}
		a.publishScenes()

	case core.CmdGetJournal:
		limit := 50
		if v, ok := cmd.Payload["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}
		entries, err := a.journal.Recent(limit)
		if err != nil {
			a.rejectCommand(cmd, err)
			return
		}
		a.broadcast("journal_recent", entries)

	default:
		logger.Warn("[Agent] Unknown command type: %s", cmd.Type)
	}
}

// stopSceneForManualCommand cancels the running scene when a direct control
// command arrives. Commands issued by the scene itself keep it alive.
func (a *Agent) stopSceneForManualCommand(source string) {
	if source == "scene" {
		return
	}
	if a.state.Clone().RunningScene == "" {
		return
	}
	logger.Info("[Agent] Manual command from %s, stopping running scene", source)
	a.luaEngine.StopCurrentScene()
}

// transmit sends one code and journals the attempt. It reports whether the
// frame went out, so callers know to advance the assumed state.
func (a *Agent) transmit(source, action, argument string, code ir.Code) bool {
	a.mu.Lock()
	controller := a.transmitter
	a.mu.Unlock()

	raw := ir.RawCode(code)
	entry := &journal.Entry{
		Source:   source,
		Action:   action,
		Argument: argument,
		Address:  code.Address,
		Command:  code.Command,
		RawCode:  raw,
	}

	if controller == nil {
		entry.Status = journal.StatusFailed
		entry.Error = "transmitter offline"
		a.record(entry)
		a.eventBus.Publish(core.Event{Type: core.CommandFailedEvent, Payload: map[string]interface{}{
			"source": source, "action": action, "argument": argument, "error": "transmitter offline",
		}})
		logger.Warn("[Agent] Cannot send %s %s: transmitter offline", action, argument)
		return false
	}

	frame, err := controller.Transmit(a.ctx, code)
	entry.PulseCount = len(frame)
	entry.DurationUs = frame.Duration().Microseconds()

	if err != nil {
		entry.Status = journal.StatusFailed
		entry.Error = err.Error()
		a.record(entry)
		a.eventBus.Publish(core.Event{Type: core.CommandFailedEvent, Payload: map[string]interface{}{
			"source": source, "action": action, "argument": argument, "error": err.Error(),
		}})
		logger.Error("[Agent] Send %s %s failed: %v", action, argument, err)

		if a.ctx.Err() == nil {
			a.markTransmitterOffline()
		}
		return false
	}

	entry.Status = journal.StatusSent
	a.record(entry)
	a.eventBus.Publish(core.Event{Type: core.CommandSentEvent, Payload: map[string]interface{}{
		"source": source, "action": action, "argument": argument, "rawCode": fmt.Sprintf("0x%08X", raw),
	}})
	logger.Info("[Agent] Sent %s %s (0x%08X)", action, argument, raw)
	return true
}

// rejectTransmit journals a command that failed validation before reaching
// the transmitter.
func (a *Agent) rejectTransmit(source, action, argument string, err error) {
	a.record(&journal.Entry{
		Source:   source,
		Action:   action,
		Argument: argument,
		Status:   journal.StatusRejected,
		Error:    err.Error(),
	})
	a.eventBus.Publish(core.Event{Type: core.CommandRejectedEvent, Payload: map[string]interface{}{
		"source": source, "action": action, "argument": argument, "error": err.Error(),
	}})
	logger.Warn("[Agent] Rejected %s %s from %s: %v", action, argument, source, err)
}

// rejectCommand reports a failed non-transmit command. Nothing was headed for
// the unit, so the journal is not involved.
func (a *Agent) rejectCommand(cmd core.Command, err error) {
	a.eventBus.Publish(core.Event{Type: core.CommandRejectedEvent, Payload: map[string]interface{}{
		"source": cmd.Source, "action": string(cmd.Type), "error": err.Error(),
	}})
	logger.Warn("[Agent] Rejected %s from %s: %v", cmd.Type, cmd.Source, err)
}

func (a *Agent) record(entry *journal.Entry) {
	if err := a.journal.Record(entry); err != nil {
		logger.Error("[Agent] Journal write failed: %v", err)
	}
}

func (a *Agent) publishState() {
	st := a.state.Clone()
	a.eventBus.Publish(core.Event{Type: core.StateChangedEvent, Payload: map[string]interface{}{
		"power":       st.Power,
		"mode":        st.Mode,
		"temperature": st.Temperature,
		"fanSpeed":    st.FanSpeed,
	}})
}

func (a *Agent) publishSchedules() {
	a.eventBus.Publish(core.Event{Type: core.ScheduleChangedEvent, Payload: a.scheduler.GetAll()})
}

func (a *Agent) publishScenes() {
	scenes, err := a.luaEngine.GetSceneList()
	if err != nil {
		logger.Error("[Agent] Listing scenes: %v", err)
		return
	}
	a.broadcast("scene_list", scenes)
}

func (a *Agent) broadcast(msgType string, payload interface{}) {
	if a.server != nil && a.server.Hub != nil {
		a.server.Hub.Broadcast(server.NewMessage(msgType, payload))
	}
}

func scheduleID(v interface{}) (int, error) {
	switch id := v.(type) {
	case string:
		parsed, err := strconv.Atoi(id)
		if err != nil {
			return 0, fmt.Errorf("payload field 'id' is not a schedule id: %w", err)
		}
		return parsed, nil
	case float64:
		return int(id), nil
	}
	return 0, fmt.Errorf("payload field 'id' must be a string or number")
}

// Shutdown stops the surfaces first so no new commands arrive, then releases
// the transmitter and the journal.
func (a *Agent) Shutdown() {
	a.scheduler.Stop()
	_ = a.server.Shutdown(context.Background())
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	a.luaEngine.StopCurrentScene()

	a.cancel()
	a.wg.Wait()

	a.mu.Lock()
	conn := a.pigpioConn
	a.pigpioConn = nil
	a.transmitter = nil
	a.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Warn("[Agent] Closing transmitter: %v", err)
		}
	}

	if err := a.journal.Close(); err != nil {
		logger.Warn("[Agent] Closing journal: %v", err)
	}
}
