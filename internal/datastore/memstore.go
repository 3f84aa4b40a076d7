package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// MemStore is an in-process Source with full optimistic locking semantics.
// It backs tests and the dev server profile.
type MemStore struct {
	mu        sync.Mutex
	models    map[string]map[string]any
	modified  map[string]int
	position  int
	sequences map[string]int
	history   map[string][]HistoryEntry
}

func NewMemStore() *MemStore {
	return &MemStore{
		models:    map[string]map[string]any{},
		modified:  map[string]int{},
		sequences: map[string]int{},
		history:   map[string][]HistoryEntry{},
	}
}

// Seed loads models without position bookkeeping, for test fixtures.
func (s *MemStore) Seed(models map[string]map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, fields := range models {
		id := fqid.MustParse(key)
		m := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			m[k] = v
		}
		if _, ok := m["id"]; !ok {
			m["id"] = id.ID
		}
		s.models[key] = m
		if id.ID > s.sequences[id.Collection] {
			s.sequences[id.Collection] = id.ID
		}
	}
}

func (s *MemStore) Get(ctx context.Context, id fqid.FQID, fields []string) (map[string]any, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	model, ok := s.models[id.String()]
	if !ok {
		return nil, 0, httperr.NewNotFound("model %s does not exist", id)
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := model[f]; ok {
			out[f] = v
		}
	}
	return out, s.position, nil
}

func (s *MemStore) GetMany(ctx context.Context, reqs []GetManyRequest) (map[string]map[int]map[string]any, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]map[int]map[string]any{}
	for _, req := range reqs {
		for _, id := range req.IDs {
			model, ok := s.models[fmt.Sprintf("%s/%d", req.Collection, id)]
			if !ok {
				continue
			}
			if out[req.Collection] == nil {
				out[req.Collection] = map[int]map[string]any{}
			}
			picked := make(map[string]any, len(req.Fields))
			for _, f := range req.Fields {
				if v, ok := model[f]; ok {
					picked[f] = v
				}
			}
			out[req.Collection][id] = picked
		}
	}
	return out, s.position, nil
}

func (s *MemStore) Filter(ctx context.Context, collection string, f Filter, fields []string) (map[int]map[string]any, int, error) {
	s.mu.Lock()
	candidates := map[int]map[string]any{}
	for key, model := range s.models {
		id, err := fqid.Parse(key)
		if err != nil || id.Collection != collection {
			continue
		}
		candidates[id.ID] = model
	}
	position := s.position
	s.mu.Unlock()

	out := map[int]map[string]any{}
	for id, model := range candidates {
		match, err := Match(f, model)
		if err != nil {
			return nil, 0, err
		}
		if !match {
			continue
		}
		picked := make(map[string]any, len(fields))
		for _, field := range fields {
			if v, ok := model[field]; ok {
				picked[field] = v
			}
		}
		out[id] = picked
	}
	return out, position, nil
}

func (s *MemStore) Exists(ctx context.Context, collection string, f Filter) (bool, int, error) {
	res, position, err := s.Filter(ctx, collection, f, nil)
	if err != nil {
		return false, 0, err
	}
	return len(res) > 0, position, nil
}

func (s *MemStore) Count(ctx context.Context, collection string, f Filter) (int, int, error) {
	res, position, err := s.Filter(ctx, collection, f, nil)
	if err != nil {
		return 0, 0, err
	}
	return len(res), position, nil
}

func (s *MemStore) Min(ctx context.Context, collection string, f Filter, field string) (*int, int, error) {
	return s.aggregate(ctx, collection, f, field, true)
}

func (s *MemStore) Max(ctx context.Context, collection string, f Filter, field string) (*int, int, error) {
	return s.aggregate(ctx, collection, f, field, false)
}

func (s *MemStore) aggregate(ctx context.Context, collection string, f Filter, field string, min bool) (*int, int, error) {
	res, position, err := s.Filter(ctx, collection, f, []string{field})
	if err != nil {
		return nil, 0, err
	}
	var best *int
	for _, model := range res {
		n, ok := asInt(model[field])
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

func (s *MemStore) ReserveIDs(ctx context.Context, collection string, amount int) ([]int, error) {
	if amount <= 0 {
		return nil, httperr.NewDatastore("cannot reserve %d ids", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, amount)
	for i := 0; i < amount; i++ {
		s.sequences[collection]++
		out = append(out, s.sequences[collection])
	}
	return out, nil
}

func (s *MemStore) HistoryInformation(ctx context.Context, fqids []string) (map[string][]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]HistoryEntry{}
	for _, key := range fqids {
		if entries, ok := s.history[key]; ok {
			out[key] = append([]HistoryEntry(nil), entries...)
		}
	}
	return out, nil
}

// Write applies one atomic write request. Every locked field whose state
// moved past the position it was read at fails the whole request with a
// model-locked error, nothing is applied.
func (s *MemStore) Write(ctx context.Context, req WriteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, position := range req.LockedFields {
		if last, ok := s.modified[key]; ok && last > position {
			return httperr.NewModelLocked("%s was modified at position %d, read at %d", key, last, position)
		}
	}
	if err := s.checkEvents(req.Events); err != nil {
		return err
	}

	s.position++
	for _, ev := range req.Events {
		s.applyEvent(ev)
	}
	for key, info := range req.Information {
		s.history[key] = append(s.history[key], HistoryEntry{
			Position:    s.position,
			UserID:      req.UserID,
			Timestamp:   time.Now().Unix(),
			Information: info,
		})
	}
	return nil
}

func (s *MemStore) checkEvents(events []Event) error {
	for _, ev := range events {
		_, exists := s.models[ev.FQID]
		switch ev.Type {
		case EventCreate:
			if exists {
				return httperr.NewDatastore("cannot create %s, model exists", ev.FQID)
			}
		case EventUpdate, EventDelete, EventListUpdate:
			if !exists {
				return httperr.NewDatastore("cannot %s %s, model does not exist", ev.Type, ev.FQID)
			}
		default:
			return httperr.NewDatastore("unknown event type %q", ev.Type)
		}
	}
	return nil
}

func (s *MemStore) applyEvent(ev Event) {
	id := fqid.MustParse(ev.FQID)
	switch ev.Type {
	case EventCreate:
		model := make(map[string]any, len(ev.Fields)+1)
		for k, v := range ev.Fields {
			if v != nil {
				model[k] = v
			}
		}
		model["id"] = id.ID
		s.models[ev.FQID] = model
		s.markModified(ev.FQID, id.Collection, keysOf(model))
		if id.ID > s.sequences[id.Collection] {
			s.sequences[id.Collection] = id.ID
		}
	case EventUpdate:
		model := s.models[ev.FQID]
		for k, v := range ev.Fields {
			if v == nil {
				delete(model, k)
			} else {
				model[k] = v
			}
		}
		s.markModified(ev.FQID, id.Collection, keysOf(ev.Fields))
	case EventDelete:
		model := s.models[ev.FQID]
		delete(s.models, ev.FQID)
		s.markModified(ev.FQID, id.Collection, keysOf(model))
	case EventListUpdate:
		model := s.models[ev.FQID]
		list, _ := model[ev.Field].([]any)
		for _, rm := range ev.Remove {
			for i, v := range list {
				if equalentry(v, rm) {
					list = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
		for _, add := range ev.Add {
			present := false
			for _, v := range list {
				if equalentry(v, add) {
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
		s.markModified(ev.FQID, id.Collection, []string{ev.Field})
	}
}

func (s *MemStore) markModified(key, collection string, fields []string) {
	for _, f := range fields {
		s.modified[key+"/"+f] = s.position
		s.modified[collection+"/"+f] = s.position
	}
}

func keysOf(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func equalentry(a, b any) bool {
	an, aok := asInt(a)
	bn, bok := asInt(b)
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

// Model returns a copy of one stored model, for test assertions.
func (s *MemStore) Model(key string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	model, ok := s.models[key]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(model))
	for k, v := range model {
		out[k] = v
	}
	return out
}

// Position returns the current write position.
func (s *MemStore) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}
