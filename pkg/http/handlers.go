package http

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/errors"
	"voxpipe-server/pkg/job"
	"voxpipe-server/pkg/pipeline"
)

// Pipeline is the orchestrator surface the HTTP layer consumes.
type Pipeline interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error)
	GetJob(id string) (*job.Job, error)
}

// VoiceHandler serves voice submission and job polling.
type VoiceHandler struct {
	logger        *logrus.Logger
	pipeline      Pipeline
	uploadDir     string
	maxUploadSize int64
}

// NewVoiceHandler creates the voice API handler. Uploads land in uploadDir.
func NewVoiceHandler(logger *logrus.Logger, p Pipeline, uploadDir string, maxUploadSize int64) *VoiceHandler {
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	if maxUploadSize <= 0 {
		maxUploadSize = 25 << 20
	}
	return &VoiceHandler{
		logger:        logger,
		pipeline:      p,
		uploadDir:     uploadDir,
		maxUploadSize: maxUploadSize,
	}
}

// SubmitVoice handles POST /api/voice/submit: a multipart form with the audio
// file plus optional session, language and mode fields. The response is
// either a synchronous reply or a job handle.
func (h *VoiceHandler) SubmitVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "audio file is required"})
		return
	}
	defer file.Close()

	audioPath, err := h.saveUpload(file, header.Filename)
	if err != nil {
		h.logger.WithError(err).Error("Failed to store uploaded audio")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "failed to store audio"})
		return
	}

	req := pipeline.SubmitRequest{
		AudioPath: audioPath,
		UserID:    r.FormValue("user_id"),
		SessionID: r.FormValue("session_id"),
		Language:  r.FormValue("language"),
		Provider:  r.FormValue("provider"),
		Async:     parseBoolField(r.FormValue("async")),
	}
	if v, err := strconv.ParseFloat(r.FormValue("duration"), 64); err == nil {
		req.Duration = &v
	}
	if v, err := strconv.ParseFloat(r.FormValue("speed"), 64); err == nil {
		req.Speed = &v
	}
	if v, err := strconv.Atoi(r.FormValue("sample_rate")); err == nil {
		req.SampleRate = &v
	}
	if r.FormValue("is_question") != "" {
		v := parseBoolField(r.FormValue("is_question"))
		req.IsQuestion = &v
	}

	h.logger.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"async":      req.Async,
		"filename":   header.Filename,
	}).Info("Voice message submitted")

	result, err := h.pipeline.Submit(r.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error("Voice processing failed")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": "voice processing failed"})
		return
	}

	if result.Async {
		writeJSON(w, http.StatusAccepted, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetJob handles GET /api/voice/jobs/{id}. An unknown id is a caller error,
// answered with 404 and not logged as a fault.
func (h *VoiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/voice/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "job id is required"})
		return
	}

	snapshot, err := h.pipeline.GetJob(id)
	if err != nil {
		if errors.Is(err, errors.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "job not found"})
			return
		}
		h.logger.WithError(err).WithField("job_id", id).Error("Failed to load job")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "failed to load job"})
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// saveUpload writes the uploaded audio to the working directory under a fresh
// name, keeping the original extension for the downstream tools.
func (h *VoiceHandler) saveUpload(file io.Reader, filename string) (string, error) {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".bin"
	}
	path := filepath.Join(h.uploadDir, "voice-"+uuid.New().String()+ext)

	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func parseBoolField(value string) bool {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return parsed
}
