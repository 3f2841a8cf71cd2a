package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/google/uuid"
)

// Uploader stores attachment bytes. Satisfied by the supabase client.
type Uploader interface {
	UploadAttachment(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
}

// AttachmentHandler accepts file uploads for file-kind messages.
type AttachmentHandler struct {
	uploader Uploader
	sessions Sessions
	bucket   string
	maxSize  int64
	logger   *slog.Logger
}

// NewAttachmentHandler creates a new AttachmentHandler instance.
func NewAttachmentHandler(uploader Uploader, sessions Sessions, bucket string, maxSize int64, logger *slog.Logger) *AttachmentHandler {
	return &AttachmentHandler{uploader: uploader, sessions: sessions, bucket: bucket, maxSize: maxSize, logger: logger}
}

// attachmentResponse carries the stored file reference the client embeds in
// its follow-up send.
type attachmentResponse struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Upload handles POST /api/attachments
// Size is validated before any bytes leave the process.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r, h.sessions)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize)
	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "attachment too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if header.Size > h.maxSize {
		writeError(w, http.StatusRequestEntityTooLarge, "attachment too large")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	objectPath := fmt.Sprintf("%s/%s%s", ident.ID, uuid.New().String(), path.Ext(header.Filename))
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url, err := h.uploader.UploadAttachment(r.Context(), h.bucket, objectPath, data, contentType)
	if err != nil {
		h.logger.Error("attachment upload failed", "user", ident.ID, "error", err)
		writeError(w, http.StatusBadGateway, "could not store attachment")
		return
	}

	writeJSON(w, http.StatusCreated, attachmentResponse{
		URL:  url,
		Name: header.Filename,
		Size: header.Size,
	})
}
