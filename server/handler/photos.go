package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"nearchat/server/model"
	"nearchat/server/store"
)

func (a *API) photos(w http.ResponseWriter, r *http.Request) {
	rows, err := a.store.Photos(mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load photos")
		return
	}
	out := make([]model.Photo, len(rows))
	for i := range rows {
		out[i] = rows[i].View()
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// uploadPhoto follows the multipart convention of answering 200 with
// success=false for rejected uploads.
func (a *API) uploadPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "image is too large"})
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "image is required"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if kind, err := mediaKind(contentType); err != nil || kind != "image" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "only images can be uploaded"})
		return
	}

	u := currentUser(r)
	n, err := a.store.CountPhotos(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not upload photo")
		return
	}
	if n >= maxPhotos {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "photo limit reached"})
		return
	}

	url, err := a.saveUpload(file, contentType, header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not store photo")
		return
	}
	p := &store.Photo{UserID: u.ID, URL: url, CreatedAt: a.now()}
	if err := a.store.AddPhoto(p); err != nil {
		a.removeUpload(url)
		writeError(w, http.StatusInternalServerError, "could not upload photo")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Photo uploaded", "data": p.View()})
}

func (a *API) deletePhoto(w http.ResponseWriter, r *http.Request) {
	p, err := a.store.DeletePhoto(currentUser(r).ID, mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not delete photo")
		return
	}
	a.removeUpload(p.URL)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Photo deleted"})
}
