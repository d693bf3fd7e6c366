package handler

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

type UploadHandler struct {
	MaxBytes int64
}

type uploadedFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int    `json:"size"`
	Data string `json:"data"`
}

type UploadResponse struct {
	File uploadedFile `json:"file"`
}

// Upload accepts one multipart file and returns it as a base64 data URL
// for embedding in image/voice messages. Only image and audio content is
// accepted, detected from the bytes rather than the client-sent type.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		writeJSONError(w, "File too large or malformed upload", "INVALID_UPLOAD", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, "No file uploaded", "NO_FILE", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, "Failed to read upload", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") && !strings.HasPrefix(mtype.String(), "audio/") {
		slog.Warn("Rejected upload with unsupported content type", "name", header.Filename, "detected", mtype.String())
		writeJSONError(w, "Only image and audio files are allowed", "UNSUPPORTED_TYPE", http.StatusBadRequest)
		return
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UploadResponse{File: uploadedFile{
		Name: header.Filename,
		Type: mtype.String(),
		Size: len(data),
		Data: "data:" + mtype.String() + ";base64," + encoded,
	}})
}
