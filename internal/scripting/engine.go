package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/geom"
)

// Engine wraps a single gopher-lua VM for scenario scripting.
// Single-goroutine access only (simulation loop).
type Engine struct {
	vm     *lua.LState
	log    *zap.Logger
	height float32
	last   geom.Vec3
	failed bool // suppresses repeated error logs until a call succeeds
}

// NewEngine creates a Lua engine and loads every script in scriptsDir, in
// name order. height is the Y coordinate given to scripted positions.
func NewEngine(scriptsDir string, height float32, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log, height: height}
	vm.SetGlobal("swarm_log", vm.NewFunction(e.luaLog))

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source in the engine.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// HasTarget reports whether a target_position function is defined.
func (e *Engine) HasTarget() bool {
	return e.vm.GetGlobal("target_position").Type() == lua.LTFunction
}

// TargetPosition calls the Lua target_position(t) function, t in seconds,
// which returns the target's (x, z). On a missing function or a Lua error
// the last good position is kept and ok is false.
func (e *Engine) TargetPosition(elapsed time.Duration) (geom.Vec3, bool) {
	fn := e.vm.GetGlobal("target_position")
	if fn.Type() != lua.LTFunction {
		if !e.failed {
			e.log.Error("lua function target_position not found")
			e.failed = true
		}
		return e.last, false
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    2,
		Protect: true,
	}, lua.LNumber(elapsed.Seconds())); err != nil {
		if !e.failed {
			e.log.Error("lua target_position error", zap.Error(err))
			e.failed = true
		}
		return e.last, false
	}

	x := e.vm.Get(-2)
	z := e.vm.Get(-1)
	e.vm.Pop(2)

	xn, okX := x.(lua.LNumber)
	zn, okZ := z.(lua.LNumber)
	if !okX || !okZ {
		if !e.failed {
			e.log.Error("lua target_position returned non-numbers",
				zap.String("x", x.Type().String()),
				zap.String("z", z.Type().String()),
			)
			e.failed = true
		}
		return e.last, false
	}

	e.failed = false
	e.last = geom.V(float32(xn), e.height, float32(zn))
	return e.last, true
}

// luaLog lets scripts write to the simulation log: swarm_log(msg).
func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("lua", zap.String("msg", L.CheckString(1)))
	return 0
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
