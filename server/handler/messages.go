package handler

import (
	"errors"
	"net/http"

	"nearchat/server/store"
)

// messages pages history: newest first, strictly older than cursor.
func (a *API) messages(w http.ResponseWriter, r *http.Request) {
	page, err := a.store.MessagesBefore(r.URL.Query().Get("cursor"), messagesPageSize)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown cursor")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": page})
}

func (a *API) subscription(w http.ResponseWriter, r *http.Request) {
	sub, err := a.store.Subscription(currentUser(r).ID, a.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": sub})
}

func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Plan string `json:"plan"`
	}
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Plan != "monthly" {
		writeError(w, http.StatusBadRequest, "unknown plan")
		return
	}
	sub, err := a.store.Subscribe(currentUser(r).ID, in.Plan, subscriptionTerm, a.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not subscribe")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Subscribed", "data": sub})
}
