package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"nearchat/server/auth"
	"nearchat/server/store"
)

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": a.store.UserView(currentUser(r), a.now())})
}

func (a *API) user(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	id := mux.Vars(r)["id"]
	u, err := a.store.UserByID(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load user")
		return
	}
	view := a.store.UserView(u, a.now())
	if u.ID != me.ID {
		view = view.Public()
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": view})
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	u := currentUser(r)
	name := strings.TrimSpace(r.FormValue("fullName"))
	if name == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "full name is required"})
		return
	}
	u.FullName = name
	u.Program = strings.TrimSpace(r.FormValue("program"))

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		contentType := header.Header.Get("Content-Type")
		if kind, err := mediaKind(contentType); err != nil || kind != "image" {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "profile image must be an image"})
			return
		}
		url, err := a.saveUpload(file, contentType, header.Filename)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not store image")
			return
		}
		if u.ProfileImg != "" {
			a.removeUpload(u.ProfileImg)
		}
		u.ProfileImg = url
	case !errors.Is(err, http.ErrMissingFile):
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}

	if err := a.store.SaveUser(u); err != nil {
		writeError(w, http.StatusInternalServerError, "could not update profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated",
		"user":    a.store.UserView(u, a.now()),
	})
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u := currentUser(r)
	if !auth.CheckPassword(u.PasswordHash, in.CurrentPassword) {
		writeError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}
	if len(in.NewPassword) < auth.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}
	if err := a.setPassword(u.ID, in.NewPassword); err != nil {
		writeError(w, http.StatusInternalServerError, "could not change password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password changed"})
}
