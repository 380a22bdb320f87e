package lua

import (
	"context"
	"time"

	"aircon-controller/internal/core"
	"aircon-controller/internal/logger"

	lua "github.com/yuin/gopher-lua"
)

// registerSceneFunctions exposes the control API to the given Lua state.
// The closures capture the script's own context so a replaced scene cannot
// cancel its successor.
func (e *Engine) registerSceneFunctions(L *lua.LState, ctx context.Context) {
	L.SetGlobal("set_power", L.NewFunction(func(L *lua.LState) int {
		e.enqueue(ctx, core.Command{
			Type:    core.CmdSetPower,
			Payload: map[string]interface{}{"isOn": L.ToBool(1)},
		})
		return 0
	}))

	L.SetGlobal("set_mode", L.NewFunction(func(L *lua.LState) int {
		e.enqueue(ctx, core.Command{
			Type:    core.CmdSetMode,
			Payload: map[string]interface{}{"mode": L.ToString(1)},
		})
		return 0
	}))

	L.SetGlobal("set_temperature", L.NewFunction(func(L *lua.LState) int {
		e.enqueue(ctx, core.Command{
			Type:    core.CmdSetTemperature,
			Payload: map[string]interface{}{"celsius": float64(L.ToInt(1))},
		})
		return 0
	}))

	L.SetGlobal("set_fan", L.NewFunction(func(L *lua.LState) int {
		e.enqueue(ctx, core.Command{
			Type:    core.CmdSetFanSpeed,
			Payload: map[string]interface{}{"speed": L.ToString(1)},
		})
		return 0
	}))

	L.SetGlobal("sleep", L.NewFunction(func(L *lua.LState) int {
		cancellableSleep(ctx, time.Duration(L.ToInt(1))*time.Millisecond)
		return 0
	}))

	L.SetGlobal("should_stop", L.NewFunction(func(L *lua.LState) int {
		select {
		case <-ctx.Done():
			L.Push(lua.LBool(true))
		default:
			L.Push(lua.LBool(false))
		}
		return 1
	}))

	L.SetGlobal("ramp_temperature", L.NewFunction(func(L *lua.LState) int {
		e.luaRampTemperature(L, ctx)
		return 0
	}))

	L.SetGlobal("print", L.NewFunction(luaPrint))
}

func luaPrint(L *lua.LState) int {
	logger.Info("[Lua] %s", L.ToString(1))
	return 0
}

// enqueue pushes a command from a scene into the agent's channel, giving up
// when the scene is cancelled.
func (e *Engine) enqueue(ctx context.Context, cmd core.Command) bool {
	if ctx.Err() != nil {
		return false
	}
	cmd.Source = "scene"
	select {
	case e.commands <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}

// cancellableSleep sleeps for d but wakes immediately if the context is
// cancelled. It reports whether the sleep was interrupted.
func cancellableSleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-ctx.Done():
		return true
	}
}

// luaRampTemperature walks the target temperature from one value to another
// one degree at a time: ramp_temperature(from, to, step_ms). Useful for
// scenes that cool a room down gently instead of jumping to the target.
func (e *Engine) luaRampTemperature(L *lua.LState, ctx context.Context) {
	from := L.ToInt(1)
	to := L.ToInt(2)
	stepMs := L.ToInt(3)

	step := 1
	if to < from {
		step = -1
	}
	stepDuration := time.Duration(stepMs) * time.Millisecond

	for celsius := from; ; celsius += step {
		if !e.enqueue(ctx, core.Command{
			Type:    core.CmdSetTemperature,
			Payload: map[string]interface{}{"celsius": float64(celsius)},
		}) {
			return
		}
		if celsius == to {
			return
		}
		if cancellableSleep(ctx, stepDuration) {
			return
		}
	}
}
