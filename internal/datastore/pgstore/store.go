// Package pgstore implements the datastore Source on postgres. It is used
// when the service owns its event store instead of delegating to an
// external datastore process.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store keeps the current models in a jsonb table and every applied event
// in an append-only log. Field positions drive the optimistic locks.
type Store struct {
	pool pgBeginner
}

func NewStore(pool pgBeginner) *Store {
	return &Store{pool: pool}
}

// Schema is the DDL the store expects. Applied by the operator before the
// first start.
const Schema = `
CREATE TABLE IF NOT EXISTS models (
    fqid       text PRIMARY KEY,
    collection text NOT NULL,
    data       jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS models_collection_idx ON models (collection);

CREATE TABLE IF NOT EXISTS events (
    position   bigint NOT NULL,
    fqid       text NOT NULL,
    event_type text NOT NULL,
    data       jsonb,
    user_id    int NOT NULL,
    information jsonb,
    created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS events_fqid_idx ON events (fqid);

CREATE TABLE IF NOT EXISTS field_positions (
    key      text PRIMARY KEY,
    position bigint NOT NULL
);

CREATE TABLE IF NOT EXISTS sequences (
    collection text PRIMARY KEY,
    last_id    int NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    id       int PRIMARY KEY,
    position bigint NOT NULL
);
INSERT INTO positions (id, position) VALUES (1, 0) ON CONFLICT DO NOTHING;
`

func (s *Store) position(ctx context.Context, tx pgx.Tx) (int, error) {
	var position int
	if err := tx.QueryRow(ctx, `SELECT position FROM positions WHERE id = 1`).Scan(&position); err != nil {
		return 0, httperr.NewDatastore("read position: %v", err)
	}
	return position, nil
}

func (s *Store) Get(ctx context.Context, id fqid.FQID, fields []string) (map[string]any, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, httperr.NewDatastore("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT data FROM models WHERE fqid = $1`, id.String()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, httperr.NewNotFound("model %s does not exist", id)
	}
	if err != nil {
		return nil, 0, httperr.NewDatastore("get %s: %v", id, err)
	}
	position, err := s.position(ctx, tx)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, httperr.NewDatastore("commit: %v", err)
	}
	model, err := decodeModel(raw)
	if err != nil {
		return nil, 0, err
	}
	return pick(model, fields), position, nil
}

func (s *Store) GetMany(ctx context.Context, reqs []datastore.GetManyRequest) (map[string]map[int]map[string]any, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, httperr.NewDatastore("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	out := map[string]map[int]map[string]any{}
	for _, req := range reqs {
		for _, id := range req.IDs {
			key := fqid.FQID{Collection: req.Collection, ID: id}
			var raw []byte
			err := tx.QueryRow(ctx, `SELECT data FROM models WHERE fqid = $1`, key.String()).Scan(&raw)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return nil, 0, httperr.NewDatastore("get %s: %v", key, err)
			}
			model, err := decodeModel(raw)
			if err != nil {
				return nil, 0, err
			}
			if out[req.Collection] == nil {
				out[req.Collection] = map[int]map[string]any{}
			}
			out[req.Collection][id] = pick(model, req.Fields)
		}
	}
	position, err := s.position(ctx, tx)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, httperr.NewDatastore("commit: %v", err)
	}
	return out, position, nil
}

// Filter loads the whole collection and evaluates the predicate in
// process, keeping its semantics identical to the other sources.
func (s *Store) Filter(ctx context.Context, collection string, f datastore.Filter, fields []string) (map[int]map[string]any, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, httperr.NewDatastore("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `SELECT fqid, data FROM models WHERE collection = $1`, collection)
	if err != nil {
		return nil, 0, httperr.NewDatastore("filter %s: %v", collection, err)
	}
	defer rows.Close()

	type row struct {
		id    fqid.FQID
		model map[string]any
	}
	var candidates []row
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, 0, httperr.NewDatastore("scan %s: %v", collection, err)
		}
		id, err := fqid.Parse(key)
		if err != nil {
			return nil, 0, httperr.NewDatastore("invalid fqid %q in models table", key)
		}
		model, err := decodeModel(raw)
		if err != nil {
			return nil, 0, err
		}
		candidates = append(candidates, row{id: id, model: model})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, httperr.NewDatastore("filter %s: %v", collection, err)
	}
	position, err := s.position(ctx, tx)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, httperr.NewDatastore("commit: %v", err)
	}

	out := map[int]map[string]any{}
	for _, cand := range candidates {
		match, err := datastore.Match(f, cand.model)
		if err != nil {
			return nil, 0, err
		}
		if match {
			out[cand.id.ID] = pick(cand.model, fields)
		}
	}
	return out, position, nil
}

func (s *Store) Exists(ctx context.Context, collection string, f datastore.Filter) (bool, int, error) {
	res, position, err := s.Filter(ctx, collection, f, nil)
	if err != nil {
		return false, 0, err
	}
	return len(res) > 0, position, nil
}

func (s *Store) Count(ctx context.Context, collection string, f datastore.Filter) (int, int, error) {
	res, position, err := s.Filter(ctx, collection, f, nil)
	if err != nil {
		return 0, 0, err
	}
	return len(res), position, nil
}

func (s *Store) Min(ctx context.Context, collection string, f datastore.Filter, field string) (*int, int, error) {
	return s.aggregate(ctx, collection, f, field, true)
}

func (s *Store) Max(ctx context.Context, collection string, f datastore.Filter, field string) (*int, int, error) {
	return s.aggregate(ctx, collection, f, field, false)
}

func (s *Store) aggregate(ctx context.Context, collection string, f datastore.Filter, field string, min bool) (*int, int, error) {
	res, position, err := s.Filter(ctx, collection, f, []string{field})
	if err != nil {
		return nil, 0, err
	}
	var best *int
	for _, model := range res {
		n, ok := intValue(model[field])
		if !ok {
			continue
		}
		if best == nil || (min && n < *best) || (!min && n > *best) {
			v := n
			best = &v
		}
	}
	return best, position, nil
}

func (s *Store) ReserveIDs(ctx context.Context, collection string, amount int) ([]int, error) {
	if amount <= 0 {
		return nil, httperr.NewDatastore("cannot reserve %d ids", amount)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, httperr.NewDatastore("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var last int
	err = tx.QueryRow(ctx, `
	INSERT INTO sequences (collection, last_id) VALUES ($1, $2)
	ON CONFLICT (collection) DO UPDATE SET last_id = sequences.last_id + $2
	RETURNING last_id
	`, collection, amount).Scan(&last)
	if err != nil {
		return nil, httperr.NewDatastore("reserve ids for %s: %v", collection, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, httperr.NewDatastore("commit: %v", err)
	}
	out := make([]int, 0, amount)
	for id := last - amount + 1; id <= last; id++ {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) HistoryInformation(ctx context.Context, fqids []string) (map[string][]datastore.HistoryEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, httperr.NewDatastore("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	out := map[string][]datastore.HistoryEntry{}
	for _, key := range fqids {
		rows, err := tx.Query(ctx, `
		SELECT position, user_id, extract(epoch FROM created_at)::bigint, information
		FROM events
		WHERE fqid = $1 AND information IS NOT NULL
		ORDER BY position ASC
		`, key)
		if err != nil {
			return nil, httperr.NewDatastore("history of %s: %v", key, err)
		}
		for rows.Next() {
			var entry datastore.HistoryEntry
			var rawInfo []byte
			if err := rows.Scan(&entry.Position, &entry.UserID, &entry.Timestamp, &rawInfo); err != nil {
				rows.Close()
				return nil, httperr.NewDatastore("history of %s: %v", key, err)
			}
			if len(rawInfo) > 0 {
				if err := json.Unmarshal(rawInfo, &entry.Information); err != nil {
					rows.Close()
					return nil, httperr.NewDatastore("history of %s: %v", key, err)
				}
			}
			out[key] = append(out[key], entry)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, httperr.NewDatastore("history of %s: %v", key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, httperr.NewDatastore("commit: %v", err)
	}
	return out, nil
}

// Write applies the request in one transaction. Lock checks, event log
// append, model upserts and field position bumps all commit together or
// not at all.
func (s *Store) Write(ctx context.Context, req datastore.WriteRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return httperr.NewDatastore("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	for key, position := range req.LockedFields {
		var last int
		err := tx.QueryRow(ctx, `SELECT position FROM field_positions WHERE key = $1`, key).Scan(&last)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return httperr.NewDatastore("check lock %s: %v", key, err)
		}
		if last > position {
			return httperr.NewModelLocked("%s was modified at position %d, read at %d", key, last, position)
		}
	}

	var position int
	if err := tx.QueryRow(ctx, `UPDATE positions SET position = position + 1 WHERE id = 1 RETURNING position`).Scan(&position); err != nil {
		return httperr.NewDatastore("advance position: %v", err)
	}

	now := time.Now()
	for _, ev := range req.Events {
		if err := s.applyEvent(ctx, tx, ev, position); err != nil {
			return err
		}
		data, err := json.Marshal(ev.Fields)
		if err != nil {
			return httperr.NewDatastore("encode event for %s: %v", ev.FQID, err)
		}
		var info []byte
		if entries, ok := req.Information[ev.FQID]; ok {
			info, err = json.Marshal(entries)
			if err != nil {
				return httperr.NewDatastore("encode information for %s: %v", ev.FQID, err)
			}
		}
		if _, err := tx.Exec(ctx, `
		INSERT INTO events (position, fqid, event_type, data, user_id, information, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, position, ev.FQID, string(ev.Type), data, req.UserID, info, now); err != nil {
			return httperr.NewDatastore("append event for %s: %v", ev.FQID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperr.NewDatastore("commit: %v", err)
	}
	return nil
}

func (s *Store) applyEvent(ctx context.Context, tx pgx.Tx, ev datastore.Event, position int) error {
	id, err := fqid.Parse(ev.FQID)
	if err != nil {
		return httperr.NewDatastore("invalid fqid %q in event", ev.FQID)
	}

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT data FROM models WHERE fqid = $1`, ev.FQID).Scan(&raw)
	exists := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return httperr.NewDatastore("load %s: %v", ev.FQID, err)
	}

	var model map[string]any
	var touched []string
	switch ev.Type {
	case datastore.EventCreate:
		if exists {
			return httperr.NewDatastore("cannot create %s, model exists", ev.FQID)
		}
		model = map[string]any{"id": id.ID}
		for k, v := range ev.Fields {
			if v != nil {
				model[k] = v
			}
			touched = append(touched, k)
		}
		touched = append(touched, "id")
	case datastore.EventUpdate, datastore.EventListUpdate, datastore.EventDelete:
		if !exists {
			return httperr.NewDatastore("cannot %s %s, model does not exist", ev.Type, ev.FQID)
		}
		model, err = decodeModel(raw)
		if err != nil {
			return err
		}
		switch ev.Type {
		case datastore.EventUpdate:
			for k, v := range ev.Fields {
				if v == nil {
					delete(model, k)
				} else {
					model[k] = v
				}
				touched = append(touched, k)
			}
		case datastore.EventListUpdate:
			applyListUpdate(model, ev)
			touched = append(touched, ev.Field)
		case datastore.EventDelete:
			for k := range model {
				touched = append(touched, k)
			}
		}
	default:
		return httperr.NewDatastore("unknown event type %q", ev.Type)
	}

	if ev.Type == datastore.EventDelete {
		if _, err := tx.Exec(ctx, `DELETE FROM models WHERE fqid = $1`, ev.FQID); err != nil {
			return httperr.NewDatastore("delete %s: %v", ev.FQID, err)
		}
	} else {
		data, err := json.Marshal(model)
		if err != nil {
			return httperr.NewDatastore("encode %s: %v", ev.FQID, err)
		}
		if _, err := tx.Exec(ctx, `
		INSERT INTO models (fqid, collection, data) VALUES ($1, $2, $3)
		ON CONFLICT (fqid) DO UPDATE SET data = EXCLUDED.data
		`, ev.FQID, id.Collection, data); err != nil {
			return httperr.NewDatastore("store %s: %v", ev.FQID, err)
		}
		if ev.Type == datastore.EventCreate {
			if _, err := tx.Exec(ctx, `
			INSERT INTO sequences (collection, last_id) VALUES ($1, $2)
			ON CONFLICT (collection) DO UPDATE SET last_id = GREATEST(sequences.last_id, $2)
			`, id.Collection, id.ID); err != nil {
				return httperr.NewDatastore("bump sequence for %s: %v", id.Collection, err)
			}
		}
	}

	for _, field := range touched {
		for _, key := range []string{ev.FQID + "/" + field, id.Collection + "/" + field} {
			if _, err := tx.Exec(ctx, `
			INSERT INTO field_positions (key, position) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET position = EXCLUDED.position
			`, key, position); err != nil {
				return httperr.NewDatastore("bump field position %s: %v", key, err)
			}
		}
	}
	return nil
}

func applyListUpdate(model map[string]any, ev datastore.Event) {
	list, _ := model[ev.Field].([]any)
	for _, rm := range ev.Remove {
		for i, v := range list {
			if sameEntry(v, rm) {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	for _, add := range ev.Add {
		present := false
		for _, v := range list {
			if sameEntry(v, add) {
				present = true
				break
			}
		}
		if !present {
			list = append(list, add)
		}
	}
	if len(list) == 0 {
		delete(model, ev.Field)
	} else {
		model[ev.Field] = list
	}
}

func sameEntry(a, b any) bool {
	an, aok := intValue(a)
	bn, bok := intValue(b)
	if aok && bok {
		return an == bn
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return false
}

func decodeModel(raw []byte) (map[string]any, error) {
	var model map[string]any
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, httperr.NewDatastore("decode model: %v", err)
	}
	return model, nil
}

func pick(model map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := model[f]; ok {
			out[f] = v
		}
	}
	return out
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

var _ datastore.Source = (*Store)(nil)
