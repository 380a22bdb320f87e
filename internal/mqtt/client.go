package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"aircon-controller/internal/config"
	"aircon-controller/internal/core"
	"aircon-controller/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client bridges the broker and the command channel. Incoming set topics
// become commands; state changes from the bus are published back retained.
type Client struct {
	client    mqtt.Client
	cfg       *config.Config
	eventBus  *core.EventBus
	state     *core.State
	commands  core.CommandChannel
	getScenes func() ([]string, error)
	prefix    string
}

// NewClient creates the MQTT client, or nil when MQTT is disabled.
func NewClient(ctx context.Context, cfg *config.Config, eventBus *core.EventBus, state *core.State, commands core.CommandChannel, getScenes func() ([]string, error)) *Client {
	if !cfg.MQTT.Enabled {
		return nil
	}

	prefix := strings.TrimSuffix(cfg.MQTT.TopicPrefix, "/")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	// Keep retrying the initial connect so a broker that boots after us
	// (common with container setups) is picked up once it appears.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetOrderMatters(false)

	// The broker announces us offline if the process dies without a clean
	// disconnect.
	opts.SetWill(prefix+"/availability", "offline", 1, true)

	c := &Client{
		cfg:       cfg,
		eventBus:  eventBus,
		state:     state,
		commands:  commands,
		getScenes: getScenes,
		prefix:    prefix,
	}

	opts.SetOnConnectHandler(c.onConnect)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warn("[MQTT] Connection lost: %v. Retrying in background...", err)
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		logger.Info("[MQTT] Attempting to reconnect...")
	})

	c.client = mqtt.NewClient(opts)

	go c.listenEvents(ctx)

	return c
}

// Connect initiates the connection.
func (c *Client) Connect() error {
	if c.client == nil {
		return nil
	}
	logger.Info("[MQTT] Starting connection loop to %s...", c.cfg.MQTT.Broker)

	token := c.client.Connect()
	// With ConnectRetry enabled an error here means a configuration problem
	// (such as a bad broker URL) rather than the network being down.
	if token.Wait() && token.Error() != nil {
		logger.Error("[MQTT] Initial connection error: %v", token.Error())
		return token.Error()
	}

	return nil
}

// Disconnect publishes the offline status first, then closes the socket.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		logger.Info("[MQTT] Disconnecting...")

		token := c.client.Publish(c.prefix+"/availability", 0, true, "offline")

		if token.WaitTimeout(2 * time.Second) {
			if token.Error() != nil {
				logger.Warn("[MQTT] Failed to publish offline status: %v", token.Error())
			}
		} else {
			logger.Warn("[MQTT] Timed out publishing offline status")
		}

		c.client.Disconnect(250)
		logger.Info("[MQTT] Disconnected")
	}
}

// Publish sends a payload under the configured topic prefix.
func (c *Client) Publish(subtopic string, payload interface{}, retained bool) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}

	topic := fmt.Sprintf("%s/%s", c.prefix, subtopic)
	msg := fmt.Sprintf("%v", payload)

	token := c.client.Publish(topic, 0, retained, msg)

	// Wait off the caller's goroutine so publishing never blocks it.
	go func() {
		if token.WaitTimeout(5 * time.Second) {
			if token.Error() != nil {
				logger.Error("[MQTT] Publish error to %s: %v", topic, token.Error())
			}
		} else {
			logger.Warn("[MQTT] Timeout publishing to %s", topic)
		}
	}()
}

// onConnect is invoked by Paho on its internal event goroutine.
func (c *Client) onConnect(client mqtt.Client) {
	logger.Info("[MQTT] Connected to broker")

	topics := map[string]mqtt.MessageHandler{
		"power/set":       c.handlePower,
		"mode/set":        c.handleMode,
		"temperature/set": c.handleTemperature,
		"fan/set":         c.handleFan,
		"scene/run":       c.handleSceneRun,
		"scene/stop":      c.handleSceneStop,
	}

	for sub, handler := range topics {
		topic := fmt.Sprintf("%s/%s", c.prefix, sub)
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			logger.Error("[MQTT] Error subscribing to %s: %v", topic, token.Error())
		} else {
			logger.Info("[MQTT] Subscribed to %s", topic)
		}
	}

	// Discovery sleeps before publishing, so run it off the Paho goroutine.
	go func() {
		c.Publish("availability", "online", true)
		if c.cfg.MQTT.HADiscoveryEnabled {
			c.PublishHADiscovery()
		}
		c.publishState()
	}()
}

// PublishHADiscovery announces the climate entity and the scene selector to
// Home Assistant.
func (c *Client) PublishHADiscovery() {
	// Give the subscriptions a moment to settle.
	time.Sleep(1 * time.Second)

	scenes, err := c.getScenes()
	if err != nil {
		logger.Warn("[MQTT] Could not get scenes for HA discovery: %v", err)
		scenes = []string{}
	}

	safeID := safeClientID(c.cfg.MQTT.ClientID)

	availability := []map[string]string{
		{
			"topic":                 fmt.Sprintf("%s/availability", c.prefix),
			"payload_available":     "online",
			"payload_not_available": "offline",
		},
		{
			"topic":                 fmt.Sprintf("%s/connection", c.prefix),
			"payload_available":     "connected",
			"payload_not_available": "disconnected",
		},
	}

	device := map[string]interface{}{
		"identifiers":  []string{safeID},
		"name":         "Aircon Controller",
		"manufacturer": "aircon-controller",
		"model":        "NEC IR Agent",
		"sw_version":   "1.0",
	}

	climateTopic := fmt.Sprintf("%s/climate/%s/climate/config", c.cfg.MQTT.HADiscoveryPrefix, safeID)

	climate := map[string]interface{}{
		"name":      "Air Conditioner",
		"unique_id": safeID + "_climate",
		"object_id": safeID,
		"icon":      "mdi:air-conditioner",

		"power_command_topic": fmt.Sprintf("%s/power/set", c.prefix),
		"payload_on":          "ON",
		"payload_off":         "OFF",

		"mode_command_topic": fmt.Sprintf("%s/mode/set", c.prefix),
		"mode_state_topic":   fmt.Sprintf("%s/mode/state", c.prefix),
		"modes":              []string{"off", "auto", "cool", "heat", "dry", "fan_only"},

		"temperature_command_topic": fmt.Sprintf("%s/temperature/set", c.prefix),
		"temperature_state_topic":   fmt.Sprintf("%s/temperature/state", c.prefix),
		"min_temp":                  c.cfg.Codes.TempMin,
		"max_temp":                  c.cfg.Codes.TempMax,
		"temp_step":                 1,

		"fan_mode_command_topic": fmt.Sprintf("%s/fan/set", c.prefix),
		"fan_mode_state_topic":   fmt.Sprintf("%s/fan/state", c.prefix),
		"fan_modes":              []string{"auto", "low", "medium", "high"},

		"availability_mode": "all",
		"availability":      availability,

		"device": device,
	}

	jsonPayload, _ := json.Marshal(climate)
	c.client.Publish(climateTopic, 0, true, jsonPayload)
	logger.Info("[MQTT] HA discovery sent to %s", climateTopic)

	selectTopic := fmt.Sprintf("%s/select/%s/scene/config", c.cfg.MQTT.HADiscoveryPrefix, safeID)

	sceneSelect := map[string]interface{}{
		"name":      "Scene",
		"unique_id": safeID + "_scene",
		"object_id": safeID + "_scene",
		"icon":      "mdi:script-text-play",

		"command_topic": fmt.Sprintf("%s/scene/run", c.prefix),
		"state_topic":   fmt.Sprintf("%s/scene/state", c.prefix),
		"options":       append([]string{"none"}, scenes...),

		"availability_mode": "all",
		"availability":      availability,

		"device": device,
	}

	jsonPayload, _ = json.Marshal(sceneSelect)
	c.client.Publish(selectTopic, 0, true, jsonPayload)
	logger.Info("[MQTT] HA discovery sent to %s", selectTopic)
}

// listenEvents mirrors bus events onto retained state topics.
func (c *Client) listenEvents(ctx context.Context) {
	sub := c.eventBus.Subscribe(core.StateChangedEvent, core.SceneChangedEvent, core.TransmitterStatusEvent)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub:
			switch event.Type {
			case core.StateChangedEvent:
				c.publishState()
			case core.SceneChangedEvent:
				if payload, ok := event.Payload.(map[string]interface{}); ok {
					if name, ok := payload["running"].(string); ok {
						if name == "" {
							name = "none"
						}
						c.Publish("scene/state", name, true)
					}
				}
			case core.TransmitterStatusEvent:
				if payload, ok := event.Payload.(map[string]interface{}); ok {
					if online, ok := payload["online"].(bool); ok {
						status := "disconnected"
						if online {
							status = "connected"
						}
						c.Publish("connection", status, true)
					}
				}
			}
		}
	}
}

func (c *Client) publishState() {
	st := c.state.Clone()

	power := "OFF"
	if st.Power {
		power = "ON"
	}
	c.Publish("power/state", power, true)
	c.Publish("mode/state", haMode(st.Power, st.Mode), true)
	c.Publish("temperature/state", st.Temperature, true)
	c.Publish("fan/state", haFan(st.FanSpeed), true)
}

// enqueue pushes a command without ever blocking a Paho handler goroutine.
func (c *Client) enqueue(cmd core.Command) {
	cmd.Source = "mqtt"
	select {
	case c.commands <- cmd:
	default:
		logger.Warn("[MQTT] Command channel full, dropping %s", cmd.Type)
	}
}

// --- Incoming set topics ---

func (c *Client) handlePower(client mqtt.Client, msg mqtt.Message) {
	isOn, ok := parseOnOff(string(msg.Payload()))
	if !ok {
		logger.Warn("[MQTT] Ignoring power payload %q", string(msg.Payload()))
		return
	}

	c.enqueue(core.Command{Type: core.CmdSetPower, Payload: map[string]interface{}{"isOn": isOn}})
}

func (c *Client) handleMode(client mqtt.Client, msg mqtt.Message) {
	mode := normalizeMode(string(msg.Payload()))
	if mode == "off" {
		c.enqueue(core.Command{Type: core.CmdSetPower, Payload: map[string]interface{}{"isOn": false}})
		return
	}

	c.enqueue(core.Command{Type: core.CmdSetMode, Payload: map[string]interface{}{"mode": mode}})
}

func (c *Client) handleTemperature(client mqtt.Client, msg mqtt.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))
	value, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		logger.Warn("[MQTT] Ignoring temperature payload %q", payload)
		return
	}

	// HA sends fractional setpoints; the code table is whole degrees.
	c.enqueue(core.Command{Type: core.CmdSetTemperature, Payload: map[string]interface{}{"celsius": math.Round(value)}})
}

func (c *Client) handleFan(client mqtt.Client, msg mqtt.Message) {
	speed := strings.ToLower(strings.TrimSpace(string(msg.Payload())))
	c.enqueue(core.Command{Type: core.CmdSetFanSpeed, Payload: map[string]interface{}{"speed": speed}})
}

func (c *Client) handleSceneRun(client mqtt.Client, msg mqtt.Message) {
	name := strings.TrimSpace(string(msg.Payload()))
	if name == "" || name == "none" {
		c.enqueue(core.Command{Type: core.CmdStopScene, Payload: map[string]interface{}{}})
		return
	}

	c.enqueue(core.Command{Type: core.CmdRunScene, Payload: map[string]interface{}{"name": name}})
}

func (c *Client) handleSceneStop(client mqtt.Client, msg mqtt.Message) {
	c.enqueue(core.Command{Type: core.CmdStopScene, Payload: map[string]interface{}{}})
}

// --- Payload helpers ---

func parseOnOff(payload string) (isOn bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "on", "true", "1":
		return true, true
	case "off", "false", "0":
		return false, true
	}
	return false, false
}

// normalizeMode maps Home Assistant HVAC mode names onto the code table's.
func normalizeMode(payload string) string {
	mode := strings.ToLower(strings.TrimSpace(payload))
	if mode == "fan_only" {
		return "fan"
	}
	return mode
}

// haMode reports the HVAC mode the way Home Assistant expects it.
func haMode(power bool, mode string) string {
	if !power {
		return "off"
	}
	switch mode {
	case "fan":
		return "fan_only"
	case "":
		// No mode sent yet this run; report auto until one pins it.
		return "auto"
	}
	return mode
}

func haFan(speed string) string {
	if speed == "" {
		return "auto"
	}
	return speed
}

func safeClientID(id string) string {
	safe := strings.ReplaceAll(id, " ", "_")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, safe)
}
