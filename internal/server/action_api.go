package server

import (
	"encoding/json"
	"net/http"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// actionResponse is the envelope of a handled batch. Results align with
// the request items by index.
type actionResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Results []action.Result `json:"results"`
}

func handleAction(d *action.Dispatcher, internal bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload []action.RequestItem
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeActionError(w, httperr.NewSchemaViolation("request body is not a valid action batch"))
			return
		}

		userID := 0
		if p, ok := currentPrincipal(r.Context()); ok {
			userID = p.UserID
		}

		results, err := d.Handle(r.Context(), userID, internal, payload)
		if err != nil {
			writeActionError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(actionResponse{
			Success: true,
			Message: "Actions handled successfully",
			Results: results,
		})
	})
}

func writeActionError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httperr.StatusOf(err))
	_ = json.NewEncoder(w).Encode(actionResponse{
		Success: false,
		Message: err.Error(),
	})
}
