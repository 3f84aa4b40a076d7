package importer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// savePreview persists the phase-1 outcome as an import_preview model and
// returns its id.
func savePreview(ctx context.Context, e *action.Env, name string, result Result) (int, error) {
	encoded, err := toJSONValue(result)
	if err != nil {
		return 0, err
	}
	create := action.CreateExecutor("import_preview")
	created, err := create(ctx, e, map[string]any{
		"name":    name,
		"state":   aggregateState(result.Rows),
		"created": int(time.Now().Unix()),
		"result":  encoded,
	})
	if err != nil {
		return 0, err
	}
	id, _ := created["id"].(int)
	return id, nil
}

// loadPreview reads a phase-1 preview back, checking it belongs to the
// importing family.
func loadPreview(ctx context.Context, e *action.Env, id int, name string) (Result, error) {
	preview, err := e.Cache.Get(ctx, fqid.New("import_preview", id), []string{"name", "result"})
	if err != nil {
		return Result{}, err
	}
	if got, _ := preview["name"].(string); got != name {
		return Result{}, httperr.NewValidation("Import preview %d does not belong to %s", id, name)
	}
	var result Result
	raw, err := json.Marshal(preview["result"])
	if err != nil {
		return Result{}, httperr.NewValidation("Import preview %d is corrupt: %v", id, err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, httperr.NewValidation("Import preview %d is corrupt: %v", id, err)
	}
	return result, nil
}

func deletePreview(ctx context.Context, e *action.Env, id int) error {
	del := action.DeleteExecutor("import_preview")
	_, err := del(ctx, e, map[string]any{"id": id})
	return err
}

// toJSONValue normalizes a struct into the generic map form the datastore
// stores for json fields.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, httperr.NewValidation("result is not serializable: %v", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, httperr.NewValidation("result is not serializable: %v", err)
	}
	return out, nil
}
