package action

import (
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// sink accumulates the events and history information of one batch attempt
// in emission order. The merger turns it into the single write request.
type sink struct {
	events      []datastore.Event
	information map[string][]string
}

func newSink() *sink {
	return &sink{information: map[string][]string{}}
}

func (s *sink) add(ev datastore.Event) {
	s.events = append(s.events, ev)
}

func (s *sink) history(fqid, entry string) {
	s.information[fqid] = append(s.information[fqid], entry)
}

// merge builds the final event list: creates and updates in first-seen
// order, deletes last. Events on the same model collapse; a model created
// and deleted within the batch vanishes entirely. Any event following a
// delete of the same model is a conflict.
func merge(events []datastore.Event) ([]datastore.Event, error) {
	type state struct {
		created *datastore.Event
		updated *datastore.Event
		deleted bool
		listUps []*datastore.Event
	}
	states := map[string]*state{}
	var order []string

	stateOf := func(fqid string) *state {
		st, ok := states[fqid]
		if !ok {
			st = &state{}
			states[fqid] = st
			order = append(order, fqid)
		}
		return st
	}

	for _, ev := range events {
		st := stateOf(ev.FQID)
		if st.deleted {
			return nil, httperr.NewDatastore("event on %s after its deletion", ev.FQID)
		}
		switch ev.Type {
		case datastore.EventCreate:
			if st.created != nil || st.updated != nil {
				return nil, httperr.NewDatastore("duplicate create of %s", ev.FQID)
			}
			created := ev
			created.Fields = copyFields(ev.Fields)
			st.created = &created
		case datastore.EventUpdate:
			if st.created != nil {
				// Updates of a model created in this batch fold into the
				// create event.
				for k, v := range ev.Fields {
					if v == nil {
						delete(st.created.Fields, k)
					} else {
						st.created.Fields[k] = v
					}
				}
				continue
			}
			if st.updated == nil {
				updated := ev
				updated.Fields = copyFields(ev.Fields)
				st.updated = &updated
				continue
			}
			for k, v := range ev.Fields {
				st.updated.Fields[k] = v
			}
		case datastore.EventListUpdate:
			merged := false
			for _, prev := range st.listUps {
				if prev.Field == ev.Field {
					prev.Add = append(prev.Add, ev.Add...)
					prev.Remove = append(prev.Remove, ev.Remove...)
					merged = true
					break
				}
			}
			if !merged {
				listEv := ev
				st.listUps = append(st.listUps, &listEv)
			}
		case datastore.EventDelete:
			st.deleted = true
		default:
			return nil, httperr.NewDatastore("unknown event type %q", ev.Type)
		}
	}

	var out []datastore.Event
	var deletes []datastore.Event
	for _, fqid := range order {
		st := states[fqid]
		if st.deleted && st.created != nil {
			// Created and deleted in the same batch: nothing to persist.
			continue
		}
		if st.deleted {
			// Earlier updates of a model deleted in the same batch are
			// dead writes; only the delete survives.
			deletes = append(deletes, datastore.Event{Type: datastore.EventDelete, FQID: fqid})
			continue
		}
		if st.created != nil {
			out = append(out, *st.created)
		}
		if st.updated != nil && len(st.updated.Fields) > 0 {
			out = append(out, *st.updated)
		}
		for _, ev := range st.listUps {
			out = append(out, *ev)
		}
	}
	return append(out, deletes...), nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
