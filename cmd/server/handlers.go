package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ShriniwasAhirrao/MetaStitch"
)

// maxUpload bounds multipart bodies.
const maxUpload = 100 << 20

type handler struct {
	engine *metastitch.Engine
}

func newHandler(e *metastitch.Engine) *handler {
	return &handler{engine: e}
}

// POST /parse
// Accepts a multipart upload ("file", optional "format") or JSON with a
// server-side path.
func (h *handler) handleParse(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart request needs a 'file' field")
			return
		}
		defer file.Close()

		// Sanitise filename to prevent path traversal. The extension is
		// kept so format detection still works.
		safeName := filepath.Base(header.Filename)
		dir, err := os.MkdirTemp("", "metastitch-upload-*")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to process file")
			slog.Error("creating upload dir", "error", err)
			return
		}
		defer os.RemoveAll(dir)

		tmpPath := filepath.Join(dir, safeName)
		dst, err := os.Create(tmpPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to process file")
			slog.Error("creating temp file", "error", err)
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			writeError(w, http.StatusInternalServerError, "failed to save file")
			slog.Error("saving uploaded file", "error", err)
			return
		}
		dst.Close()

		h.parse(w, r, tmpPath, r.FormValue("format"))
		return
	}

	var req struct {
		Path   string `json:"path"`
		Format string `json:"format,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	h.parse(w, r, absPath, req.Format)
}

func (h *handler) parse(w http.ResponseWriter, r *http.Request, path, format string) {
	var opts []metastitch.ParseOption
	if format != "" {
		opts = append(opts, metastitch.WithFormat(format))
	}

	res, err := h.engine.Parse(r.Context(), path, opts...)
	switch {
	case errors.Is(err, metastitch.ErrFileNotFound):
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	case errors.Is(err, metastitch.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "parsing failed")
		slog.Error("parse error", "path", path, "error", err)
		return
	}
	noteParse(r, res)
	writeJSON(w, http.StatusOK, res)
}

// POST /parse/batch
func (h *handler) handleParseBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths  []string `json:"paths"`
		Format string   `json:"format,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths is required")
		return
	}

	var opts []metastitch.ParseOption
	if req.Format != "" {
		opts = append(opts, metastitch.WithFormat(req.Format))
	}

	type item struct {
		Path   string `json:"path"`
		Result any    `json:"result,omitempty"`
		Error  string `json:"error,omitempty"`
	}
	results := h.engine.ParseAll(r.Context(), req.Paths, opts...)
	items := make([]item, len(results))
	for i, res := range results {
		items[i] = item{Path: res.Path}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
		} else {
			items[i].Result = res.Result
			noteParse(r, res.Result)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// GET /formats
func (h *handler) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"formats": h.engine.Formats(),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
