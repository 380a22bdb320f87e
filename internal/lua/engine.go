// Package lua provides a Lua scripting engine for air conditioner scenes.
// A scene is a script that issues control commands over time, for example
// a gradual cooldown for the night.
package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aircon-controller/internal/core"
	"aircon-controller/internal/logger"

	lua "github.com/yuin/gopher-lua"
)

// cmdType defines the type of engine command.
type cmdType int

const (
	cmdRunFile cmdType = iota
	cmdRunString
	cmdStop
)

// engineCmd represents a command sent to the Lua engine.
type engineCmd struct {
	kind cmdType
	name string
	code string
}

// Engine manages the Lua scripting environment using a single worker
// goroutine to ensure only one scene runs at a time.
type Engine struct {
	commands  core.CommandChannel
	scenesDir string
	eventBus  *core.EventBus

	cmdChan chan engineCmd
}

// NewEngine creates a new Lua engine and starts its background worker.
func NewEngine(commands core.CommandChannel, scenesDir string, eb *core.EventBus) *Engine {
	e := &Engine{
		commands:  commands,
		scenesDir: scenesDir,
		eventBus:  eb,
		cmdChan:   make(chan engineCmd, 10),
	}

	go e.runLoop()

	return e
}

// runLoop is the main worker loop that processes engine commands sequentially.
func (e *Engine) runLoop() {
	var currentCancel context.CancelFunc
	var scriptDone chan struct{}

	for cmd := range e.cmdChan {
		if currentCancel != nil {
			currentCancel()
			select {
			case <-scriptDone:
			case <-time.After(2 * time.Second):
				logger.Warn("[Lua] timeout waiting for scene to stop")
			}
			currentCancel = nil
			scriptDone = nil
		}

		if cmd.kind == cmdStop {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		currentCancel = cancel
		scriptDone = make(chan struct{})

		go func(cmd engineCmd, ctx context.Context, done chan struct{}) {
			switch cmd.kind {
			case cmdRunFile:
				e.executeFile(cmd.name, cmd.code, ctx, done)
			case cmdRunString:
				e.executeString(cmd.name, cmd.code, ctx, done)
			}
		}(cmd, ctx, scriptDone)
	}
}

// StopCurrentScene stops the currently running script if any.
func (e *Engine) StopCurrentScene() {
	select {
	case e.cmdChan <- engineCmd{kind: cmdStop}:
	default:
		logger.Warn("[Lua] command channel full, could not send stop command")
	}
}

// RunScene prepares and sends a command to execute a Lua script from a file.
func (e *Engine) RunScene(name string) {
	scriptPath, err := e.GetScenePath(name)
	if err != nil {
		logger.Warn("[Lua] could not get scene path for '%s': %v", name, err)
		return
	}

	e.cmdChan <- engineCmd{
		kind: cmdRunFile,
		name: name,
		code: scriptPath,
	}
}

// ExecuteString prepares and sends a command to execute a one-off Lua command string.
func (e *Engine) ExecuteString(code string) {
	e.cmdChan <- engineCmd{
		kind: cmdRunString,
		name: "single line command",
		code: code,
	}
}

// sanitizeFilename checks for directory traversal and ensures a valid .lua extension.
func sanitizeFilename(name string) (string, error) {
	if !strings.HasSuffix(name, ".lua") {
		return "", fmt.Errorf("filename must end with .lua")
	}
	cleanName := filepath.Base(name)
	if cleanName == "" || cleanName == ".lua" || strings.Contains(cleanName, "..") {
		return "", fmt.Errorf("invalid filename")
	}
	return cleanName, nil
}

// GetScenePath returns the safe path to a scene file within the engine's configured directory.
func (e *Engine) GetScenePath(name string) (string, error) {
	cleanName, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	// Ensure the base directory exists
	if _, err := os.Stat(e.scenesDir); os.IsNotExist(err) {
		logger.Info("[Lua] creating scenes directory: %s", e.scenesDir)
		if err := os.MkdirAll(e.scenesDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create scenes directory: %w", err)
		}
	}
	return filepath.Join(e.scenesDir, cleanName), nil
}

// GetSceneCode reads and returns the source code of a scene file.
func (e *Engine) GetSceneCode(name string) (string, error) {
	path, err := e.GetScenePath(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SaveSceneCode writes the provided Lua source code to a scene file.
func (e *Engine) SaveSceneCode(name, code string) error {
	path, err := e.GetScenePath(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(code), 0644)
}

// DeleteScene removes a scene file by name.
func (e *Engine) DeleteScene(name string) error {
	path, err := e.GetScenePath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// GetSceneList scans the scenes directory and returns a list of available .lua files.
func (e *Engine) GetSceneList() ([]string, error) {
	var scenes []string
	files, err := os.ReadDir(e.scenesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return scenes, nil
		}
		return nil, err
	}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".lua" {
			scenes = append(scenes, file.Name())
		}
	}
	return scenes, nil
}

// executeFile is an internal wrapper to run a Lua file within the worker's context.
func (e *Engine) executeFile(name, path string, ctx context.Context, done chan struct{}) {
	defer close(done)
	e.execute(name, func(L *lua.LState) error {
		return L.DoFile(path)
	}, ctx)
}

// executeString is an internal wrapper to run a Lua code string within the worker's context.
func (e *Engine) executeString(name, code string, ctx context.Context, done chan struct{}) {
	defer close(done)
	e.execute(name, func(L *lua.LState) error {
		return L.DoString(code)
	}, ctx)
}

// execute is a helper to run Lua code using a fresh state and provided executor function.
func (e *Engine) execute(name string, executor func(*lua.LState) error, ctx context.Context) {
	logger.Info("[Lua] starting scene '%s'", name)
	if e.eventBus != nil {
		e.eventBus.Publish(core.Event{
			Type: core.SceneChangedEvent,
			Payload: map[string]interface{}{
				"running": name,
			},
		})
	}

	defer func() {
		logger.Info("[Lua] scene '%s' finished", name)
		if e.eventBus != nil {
			e.eventBus.Publish(core.Event{
				Type: core.SceneChangedEvent,
				Payload: map[string]interface{}{
					"running": "",
				},
			})
		}
	}()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	e.registerSceneFunctions(L, ctx)

	if err := executor(L); err != nil {
		if ctx.Err() == context.Canceled {
			logger.Info("[Lua] scene '%s' execution was canceled", name)
		} else {
			logger.Error("[Lua] error executing scene '%s': %v", name, err)
		}
	}
}
