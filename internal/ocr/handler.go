package ocr

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	errors "github.com/storiesoff/backend/internal"
	"github.com/storiesoff/backend/internal/transport"
)

// requests are images, so cap the multipart form at 10 MiB
const maxUploadSize = 10 << 20

// RecognizerAPI abstracts the recognition backend for handler tests.
type RecognizerAPI interface {
	Recognize(ctx context.Context, filename string, content io.Reader, language string) (string, error)
}

type Handler struct {
	*transport.BaseHandler
	Recognizer RecognizerAPI
	Logger     *slog.Logger
}

func NewHandler(recognizer RecognizerAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
		Recognizer:  recognizer,
		Logger:      logger,
	}
}

// Probe answers health checks from clients that ping the endpoint before
// uploading.
func (h *Handler) Probe(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Recognize accepts a multipart upload under "file" (or "image") with an
// optional "language"/"lang" field and returns the extracted text.
func (h *Handler) Recognize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid multipart form", errors.ErrCodeValidationFailed))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
	}
	if err != nil {
		h.HandleError(w, errors.NewValidationError("file/image is required", errors.ErrCodeFileRequired))
		return
	}
	defer file.Close()

	language := r.FormValue("language")
	if language == "" {
		language = r.FormValue("lang")
	}

	text, err := h.Recognizer.Recognize(r.Context(), header.Filename, file, resolveLanguage(language))
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{"text": text})
}

// resolveLanguage maps the client hint to a tesseract language pack. Russian
// requests get the combined rus+eng pack since screenshots mix both scripts.
func resolveLanguage(param string) string {
	switch strings.ToLower(param) {
	case "rus", "ru":
		return "rus+eng"
	default:
		return "eng"
	}
}
