package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var errUnsupportedMedia = errors.New("only images and videos are accepted")

// saveUpload writes r into the uploads directory under a fresh name and
// returns its public URL.
func (a *API) saveUpload(r io.Reader, contentType, fileName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	name := uuid.NewString() + ext

	if err := os.MkdirAll(a.opts.UploadsDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(filepath.Join(a.opts.UploadsDir, name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, io.LimitReader(r, maxUploadSize+1)); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return "/uploads/" + name, nil
}

func (a *API) removeUpload(url string) {
	name := strings.TrimPrefix(url, "/uploads/")
	if name == url || strings.ContainsAny(name, `/\`) {
		return
	}
	if err := os.Remove(filepath.Join(a.opts.UploadsDir, name)); err != nil && !os.IsNotExist(err) {
		a.log.WithError(err).WithField("file", name).Warn("failed to remove upload")
	}
}

func mediaKind(contentType string) (string, error) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image", nil
	case strings.HasPrefix(contentType, "video/"):
		return "video", nil
	default:
		return "", errUnsupportedMedia
	}
}
