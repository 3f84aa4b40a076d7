// Package presenter is the read-side counterpart of the action
// dispatcher: named queries, registered at init, answered against the
// datastore without emitting events.
package presenter

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// Env carries the request-scoped services of one presenter batch.
type Env struct {
	Cache  *datastore.Cache
	Perm   *perm.Kernel
	UserID int
}

// Func answers one presenter query.
type Func func(ctx context.Context, e *Env, data json.RawMessage) (any, error)

// Request is one element of the presenter batch envelope.
type Request struct {
	Presenter string          `json:"presenter"`
	Data      json.RawMessage `json:"data"`
}

var (
	mu       sync.RWMutex
	registry = map[string]Func{}
)

// Register adds a presenter under its name. Duplicate names are a
// programming error.
func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[name]; ok {
		panic("presenter " + name + " registered twice")
	}
	registry[name] = fn
}

func lookup(name string) (Func, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Names lists the registered presenters, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatcher answers presenter batches against one datastore source.
type Dispatcher struct {
	source datastore.Source
}

func NewDispatcher(source datastore.Source) *Dispatcher {
	return &Dispatcher{source: source}
}

// Handle runs every query of the batch and returns one result per query,
// aligned by index.
func (d *Dispatcher) Handle(ctx context.Context, userID int, payload []Request) ([]any, error) {
	if len(payload) == 0 {
		return nil, httperr.NewSchemaViolation("request must contain at least one presenter")
	}
	cache := datastore.NewCache(d.source)
	env := &Env{Cache: cache, Perm: perm.NewKernel(cache), UserID: userID}

	results := make([]any, 0, len(payload))
	for _, req := range payload {
		fn, ok := lookup(req.Presenter)
		if !ok {
			return nil, httperr.NewValidation("Presenter %s does not exist.", req.Presenter)
		}
		result, err := fn(ctx, env, req.Data)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}
