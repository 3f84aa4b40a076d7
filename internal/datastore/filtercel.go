package datastore

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/plenumhq/plenum/pkg/httperr"
)

var filterEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("m", cel.MapType(cel.StringType, cel.DynType)))
}

var filterProgramCache sync.Map

// Match evaluates a filter against one model map. Filters coming back from
// the datastore service are re-checked locally against overlay-changed
// models, so the projected state of the running batch wins over the
// persisted one.
func Match(f Filter, model map[string]any) (bool, error) {
	program, err := loadOrCompileFilterProgram(Expr(f))
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(map[string]any{"m": normalizeModel(model)})
	if err != nil {
		return false, httperr.NewDatastore("filter evaluation: %v", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, httperr.NewDatastore("filter did not evaluate to bool")
	}
	return v, nil
}

func loadOrCompileFilterProgram(expr string) (cel.Program, error) {
	if cached, ok := filterProgramCache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := filterEnv()
	if err != nil {
		return nil, httperr.NewDatastore("filter env: %v", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, httperr.NewDatastore("filter compile: %v", issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, httperr.NewDatastore("filter program: %v", err)
	}
	filterProgramCache.Store(expr, program)
	return program, nil
}

// normalizeModel maps Go ints to int64 so CEL comparisons against integer
// literals behave uniformly.
func normalizeModel(model map[string]any) map[string]any {
	out := make(map[string]any, len(model))
	for k, v := range model {
		switch t := v.(type) {
		case int:
			out[k] = int64(t)
		case float64:
			if t == float64(int64(t)) {
				out[k] = int64(t)
			} else {
				out[k] = t
			}
		default:
			out[k] = v
		}
	}
	return out
}
