package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
)

// Upload is one file part of a multipart form
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// Part is a named file in a multipart form
type Part struct {
	Field  string
	Upload Upload
}

// doMultipart posts a multipart form. No JSON content type is set so the
// writer's boundary header reaches the server untouched.
func (c *Client) doMultipart(ctx context.Context, path string, fields map[string]string, files []Part) (*envelope, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		name := filepath.Base(f.Upload.FileName)
		if name == "." || name == "/" {
			name = "upload"
		}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, name))
		contentType := f.Upload.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, f.Upload.Body); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req, true)
}
