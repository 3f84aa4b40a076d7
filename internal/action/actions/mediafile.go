package actions

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
	"github.com/plenumhq/plenum/pkg/treesort"
)

func init() {
	action.Register(&action.Action{
		Name: "mediafile.upload",
		Schema: action.SchemaOf(reg, "mediafile",
			[]string{"title", "meeting_id"},
			[]string{"filename", "mimetype", "parent_id"},
			[]string{"file"}),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MediafileCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := checkMediafileParent(ctx, e, instance); err != nil {
				return err
			}
			encoded, _ := instance["file"].(string)
			if encoded == "" {
				return httperr.NewSchemaViolation("data must contain ['file'] properties")
			}
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return httperr.NewValidation("file must be base64 encoded")
			}
			instance["filesize"] = len(raw)
			instance["create_timestamp"] = int(time.Now().Unix())
			return nil
		},
		Execute: withoutExtras(action.CreateExecutor("mediafile"), "file"),
	})

	action.Register(&action.Action{
		Name:   "mediafile.create_directory",
		Schema: action.SchemaOf(reg, "mediafile", []string{"title", "meeting_id"}, []string{"parent_id"}, nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MediafileCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := checkMediafileParent(ctx, e, instance); err != nil {
				return err
			}
			instance["is_directory"] = true
			instance["create_timestamp"] = int(time.Now().Unix())
			return nil
		},
		Execute: action.CreateExecutor("mediafile"),
	})

	action.Register(&action.Action{
		Name:   "mediafile.update",
		Schema: action.SchemaOf(reg, "mediafile", nil, []string{"title", "parent_id", "attachment_ids"}, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "mediafile", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MediafileCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := checkMediafileParent(ctx, e, instance); err != nil {
				return err
			}
			if raw, ok := instance["parent_id"]; ok && raw != nil {
				id, _ := intOf(instance["id"])
				parentID, ok := intOf(raw)
				if !ok {
					return httperr.NewValidation("parent_id must be an id")
				}
				return treesort.CheckNotAncestor(id, parentID, mediafileParentOf(ctx, e))
			}
			return nil
		},
		Execute: action.UpdateExecutor("mediafile"),
	})

	action.Register(&action.Action{
		Name:   "mediafile.delete",
		Schema: action.SchemaOf(reg, "mediafile", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "mediafile", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MediafileCanManage)
		},
		Execute: action.DeleteExecutor("mediafile"),
	})
}

func mediafileParentOf(ctx context.Context, e *action.Env) func(id int) (int, error) {
	return func(id int) (int, error) {
		file, err := e.Cache.Get(ctx, fqid.New("mediafile", id), []string{"parent_id"})
		if err != nil {
			return 0, err
		}
		parent, _ := intOf(file["parent_id"])
		return parent, nil
	}
}

// checkMediafileParent requires a named parent to be a directory.
func checkMediafileParent(ctx context.Context, e *action.Env, instance map[string]any) error {
	parentID, ok := intOf(instance["parent_id"])
	if !ok {
		return nil
	}
	parent, err := e.Cache.Get(ctx, fqid.New("mediafile", parentID), []string{"is_directory"})
	if err != nil {
		return err
	}
	if isDir, _ := parent["is_directory"].(bool); !isDir {
		return httperr.NewValidation("Parent %d is not a directory", parentID)
	}
	return nil
}
