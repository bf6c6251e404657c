package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

// ScriptAdapter executes Starlark scripts carried in action parameters.
// The script sees two predeclared values: `params` (the action parameters
// minus the script itself) and `ctx` (the execution context). Top-level
// globals not starting with "_" become the action output.
type ScriptAdapter struct {
	BaseAdapter

	timeout time.Duration
}

var _ orchestrator.Adapter = (*ScriptAdapter)(nil)

// NewScriptAdapter creates a script adapter. timeout zero uses the default
// execute timeout.
func NewScriptAdapter(logger zerolog.Logger, name string, timeout time.Duration) *ScriptAdapter {
	if timeout == 0 {
		timeout = DefaultExecuteTimeout
	}
	return &ScriptAdapter{
		BaseAdapter: NewBaseAdapter(logger, name, "script", nil),
		timeout:     timeout,
	}
}

// Connect marks the adapter connected. Scripts run in-process.
func (a *ScriptAdapter) Connect(_ context.Context) error {
	a.setConnected(true)
	return nil
}

// Disconnect marks the adapter disconnected.
func (a *ScriptAdapter) Disconnect(_ context.Context) error {
	a.setConnected(false)
	return nil
}

// Execute runs the Starlark script from the action's "script" parameter.
func (a *ScriptAdapter) Execute(ctx context.Context, action rule.Action, execCtx map[string]interface{}) (map[string]interface{}, error) {
	script, ok := action.Parameters["script"].(string)
	if !ok || script == "" {
		return nil, orchestrator.NewPermanentError(
			fmt.Sprintf("action %s requires a script parameter", action.Name), nil).
			WithCode(orchestrator.ErrCodeValidation).
			WithFramework(a.Framework())
	}

	timeout := a.timeout
	if action.Timeout > 0 {
		timeout = action.Timeout.Std()
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := make(map[string]interface{}, len(action.Parameters))
	for k, v := range action.Parameters {
		if k == "script" {
			continue
		}
		params[k] = v
	}

	logger := a.Logger()
	thread := &starlark.Thread{
		Name: action.Name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug().Str("action", action.Name).Msg(msg)
		},
	}

	resultCh := make(chan map[string]interface{}, 1)
	errCh := make(chan error, 1)
	go func() {
		output, err := a.run(thread, action.Name, script, params, execCtx)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- output
	}()

	select {
	case <-evalCtx.Done():
		// Stop the interpreter so a runaway script does not keep a
		// goroutine spinning after the caller has given up.
		thread.Cancel("timed out")
		return nil, orchestrator.NewTransientError(
			fmt.Sprintf("script execution timed out after %s", timeout), evalCtx.Err()).
			WithCode(orchestrator.ErrCodeTimeout).
			WithFramework(a.Framework())
	case err := <-errCh:
		return nil, orchestrator.NewPermanentError("script execution failed", err).
			WithCode(orchestrator.ErrCodeAdapterFailed).
			WithFramework(a.Framework())
	case output := <-resultCh:
		return output, nil
	}
}

// Health reports healthy while connected.
func (a *ScriptAdapter) Health(_ context.Context) orchestrator.AdapterHealth {
	if !a.Connected() {
		return a.health(false, "not connected", 0)
	}
	return a.health(true, "ok", 0)
}

func (a *ScriptAdapter) run(thread *starlark.Thread, name, script string, params, execCtx map[string]interface{}) (map[string]interface{}, error) {
	paramsVal, err := toStarlarkValue(params)
	if err != nil {
		return nil, fmt.Errorf("failed to convert params: %w", err)
	}
	ctxVal, err := toStarlarkValue(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to convert execution context: %w", err)
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"params": paramsVal,
		"ctx":    ctxVal,
	}

	globals, err := starlark.ExecFile(thread, name+".star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{})
	for key, val := range globals {
		if len(key) > 0 && key[0] == '_' {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", key, err)
		}
		output[key] = goVal
	}
	return output, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			starlarkVal, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
