package server

import (
	"encoding/json"
	"net/http"

	"github.com/plenumhq/plenum/internal/presenter"
	"github.com/plenumhq/plenum/pkg/httperr"
)

func handlePresenter(d *presenter.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload []presenter.Request
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeActionError(w, httperr.NewSchemaViolation("request body is not a valid presenter batch"))
			return
		}

		userID := 0
		if p, ok := currentPrincipal(r.Context()); ok {
			userID = p.UserID
		}

		results, err := d.Handle(r.Context(), userID, payload)
		if err != nil {
			writeActionError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(results)
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"healthy": true})
}
