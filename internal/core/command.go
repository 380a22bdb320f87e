package core

// CommandType defines the type of command being dispatched.
type CommandType string

const (
	CmdSetPower       CommandType = "setPower"
	CmdSetMode        CommandType = "setMode"
	CmdSetTemperature CommandType = "setTemperature"
	CmdSetFanSpeed    CommandType = "setFanSpeed"
	CmdRunScene       CommandType = "runScene"
	CmdStopScene      CommandType = "stopScene"
	CmdAddSchedule    CommandType = "addSchedule"
	CmdRemoveSchedule CommandType = "removeSchedule"
	CmdGetSceneCode   CommandType = "getSceneCode"
	CmdSaveSceneCode  CommandType = "saveSceneCode"
	CmdDeleteScene    CommandType = "deleteScene"
	CmdGetJournal     CommandType = "getJournal"
)

// Command is the envelope for incoming requests to change state or perform actions.
type Command struct {
	Type    CommandType
	Payload map[string]interface{}
	// Source names the surface the command arrived from: "ws", "mqtt",
	// "scheduler" or "scene". Recorded in the transmission journal.
	Source string
}

// CommandChannel is the single channel that the core Agent listens to for commands.
type CommandChannel chan Command
