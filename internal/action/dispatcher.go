package action

import (
	"context"
	"encoding/json"
	"time"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/meta"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// RequestItem is one element of the batch envelope.
type RequestItem struct {
	Action string           `json:"action"`
	Data   []map[string]any `json:"data"`
}

// Result is the outcome of one action, aligned by index with the request.
type Result struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Results []map[string]any `json:"results,omitempty"`
}

// Dispatcher executes batches against one datastore source. It is safe
// for concurrent use; every batch attempt builds its own overlay.
type Dispatcher struct {
	reg    *meta.Registry
	source datastore.Source

	// attempts is the total number of tries on lock conflicts.
	attempts int
}

func NewDispatcher(reg *meta.Registry, source datastore.Source) *Dispatcher {
	return &Dispatcher{reg: reg, source: source, attempts: 3}
}

// Handle validates the envelope and executes the batch. On a lock
// conflict the whole batch is retried with a fresh overlay; side effects
// stay gated behind on-success callbacks, so retries are unobservable.
func (d *Dispatcher) Handle(ctx context.Context, userID int, internal bool, payload []RequestItem) ([]Result, error) {
	if err := validateEnvelope(payload); err != nil {
		batchesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	for _, item := range payload {
		a, ok := Lookup(item.Action)
		if !ok {
			batchesTotal.WithLabelValues("invalid").Inc()
			return nil, httperr.NewValidation("Action %s does not exist.", item.Action)
		}
		if a.Internal && !internal {
			batchesTotal.WithLabelValues("invalid").Inc()
			return nil, httperr.NewValidation("Action %s does not exist.", item.Action)
		}
	}

	var results []Result
	var env *Env
	var err error
	for attempt := 1; ; attempt++ {
		env = NewEnv(d.reg, d.source, userID, internal)
		results, err = d.runBatch(ctx, env, payload)
		if err == nil {
			break
		}
		if httperr.KindOf(err) == httperr.KindModelLocked && attempt < d.attempts {
			retriesTotal.Inc()
			continue
		}
		batchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	for _, fn := range env.onSuccess {
		fn()
	}
	batchesTotal.WithLabelValues("ok").Inc()
	return results, nil
}

// runBatch is one attempt: execute all actions, merge, write once.
func (d *Dispatcher) runBatch(ctx context.Context, env *Env, payload []RequestItem) ([]Result, error) {
	results := make([]Result, 0, len(payload))
	for _, item := range payload {
		a, _ := Lookup(item.Action)
		instanceResults, err := a.run(ctx, env, item.Data)
		if err != nil {
			actionsTotal.WithLabelValues(item.Action, "error").Inc()
			return nil, err
		}
		actionsTotal.WithLabelValues(item.Action, "ok").Inc()
		results = append(results, Result{Success: true, Message: "Actions handled successfully", Results: instanceResults})
	}

	events, err := merge(env.sink.events)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return results, nil
	}
	req := datastore.WriteRequest{
		Events:       events,
		Information:  env.sink.information,
		UserID:       env.UserID,
		LockedFields: env.Cache.LockedFields(),
	}
	start := time.Now()
	err = d.source.Write(ctx, req)
	writeSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return results, nil
}

// validateEnvelope enforces the outer request shape: a non-empty array of
// unique {action, data} items, each data a non-empty array of objects.
func validateEnvelope(payload []RequestItem) error {
	if len(payload) == 0 {
		return httperr.NewSchemaViolation("request must contain at least one action")
	}
	seen := map[string]bool{}
	for _, item := range payload {
		if item.Action == "" {
			return httperr.NewSchemaViolation("action name must not be empty")
		}
		if len(item.Data) == 0 {
			return httperr.NewSchemaViolation("data of action %s must contain at least one instance", item.Action)
		}
		raw, err := json.Marshal(item)
		if err != nil {
			return httperr.NewSchemaViolation("request is not serializable: %v", err)
		}
		if seen[string(raw)] {
			return httperr.NewSchemaViolation("request items must be unique")
		}
		seen[string(raw)] = true
	}
	return nil
}
