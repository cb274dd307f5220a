package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/allinconverter/aic-core/internal/audit"
	"github.com/allinconverter/aic-core/internal/domain"
	"github.com/allinconverter/aic-core/internal/operation"
	"github.com/allinconverter/aic-core/internal/queue"
	"github.com/allinconverter/aic-core/internal/storage"
	"github.com/allinconverter/aic-core/internal/validate"
)

// multipartMemory is the in-memory threshold for form parsing; larger
// uploads spill to temp files.
const multipartMemory = 32 << 20

// handleConvert admits a conversion: validate, upload the input, create
// the job. The response carries the job id only — a download location does
// not exist yet and is never promised here.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Guard the whole request body; the multipart framing adds overhead on
	// top of the file ceiling.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondError(w, http.StatusBadRequest, "Missing file or converter type")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing file or converter type")
		return
	}
	defer file.Close()

	converter := r.FormValue("converter")
	if converter == "" {
		respondError(w, http.StatusBadRequest, "Missing file or converter type")
		return
	}

	options := map[string]interface{}{}
	if raw := r.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid options")
			return
		}
	}

	prefix := make([]byte, validate.SniffWindow)
	n, err := io.ReadFull(file, prefix)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		s.log.Error("read upload", zap.String("endpoint", "/api/convert"), zap.Error(err))
		respondInternal(w)
		return
	}

	res, err := validate.Check(prefix[:n], header.Filename, header.Size, converter, s.cfg.MaxUploadBytes)
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			respondError(w, http.StatusUnsupportedMediaType, verr.Reason)
			return
		}
		respondInternal(w)
		return
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		s.log.Error("rewind upload", zap.Error(err))
		respondInternal(w)
		return
	}

	inputKey, err := s.store.Put(ctx, file, header.Size, res.Detected.MIME, header.Filename, "input", res.Detected.Extension)
	if err != nil {
		s.log.Error("upload input artifact",
			zap.String("converter", converter),
			zap.String("client", clientKey(r)),
			zap.Error(err))
		respondInternal(w)
		return
	}

	outputExt, _ := operation.OutputExtFor(converter, header.Filename)
	outputKey := storage.GenerateKey("output", outputExt)

	job, err := s.jobs.Create(ctx, converter, inputKey, outputKey, options)
	if err != nil {
		s.log.Error("create job",
			zap.String("converter", converter),
			zap.String("inputKey", inputKey),
			zap.String("client", clientKey(r)),
			zap.Error(err))
		respondInternal(w)
		return
	}

	s.audit.Admission(ctx, audit.AdmissionRecord{
		JobID:     job.ID,
		Converter: converter,
		ClientKey: clientKey(r),
		InputKey:  inputKey,
		Size:      header.Size,
	})

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":    job.ID,
		"status":   string(domain.Pending),
		"progress": 0,
	})
}

// handleStatus reports job progress. It never hands out a signed URL; when
// the job completes it points at the download endpoint, which is rate
// limited separately.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.log.Error("load job", zap.String("jobId", jobID), zap.Error(err))
		respondInternal(w)
		return
	}

	resp := map[string]interface{}{
		"id":            job.ID,
		"status":        string(job.Status),
		"progress":      job.Progress,
		"createdAt":     job.CreatedAt,
		"downloadReady": false,
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.Status == domain.Completed && job.OutputKey != "" {
		resp["downloadReady"] = true
		resp["downloadEndpoint"] = "/api/download?" + url.Values{
			"key":   {job.OutputKey},
			"jobId": {job.ID},
		}.Encode()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleDownload mints the short-lived capability URL for a completed
// job's output. The presented key must match the job's recorded output key
// exactly; anything else is treated as an enumeration attempt.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	jobID := r.URL.Query().Get("jobId")
	if key == "" || jobID == "" {
		respondError(w, http.StatusBadRequest, "Missing key or jobId parameter")
		return
	}

	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.log.Error("load job", zap.String("jobId", jobID), zap.Error(err))
		respondInternal(w)
		return
	}
	if job.Status != domain.Completed {
		respondError(w, http.StatusBadRequest, "Job not completed yet")
		return
	}
	if job.OutputKey != key {
		respondError(w, http.StatusForbidden, "Invalid download key")
		return
	}

	s.audit.Download(r.Context(), audit.DownloadRecord{
		JobID:     jobID,
		Key:       key,
		ClientKey: clientKey(r),
		Referrer:  r.Referer(),
	})

	ttl := time.Duration(s.cfg.DownloadTTLSec) * time.Second
	downloadURL, err := s.store.PresignGet(r.Context(), key, ttl)
	if err != nil {
		s.log.Error("presign download",
			zap.String("jobId", jobID),
			zap.String("key", key),
			zap.Error(err))
		respondInternal(w)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"downloadUrl": downloadURL,
		"expiresIn":   s.cfg.DownloadTTLSec,
		"fileName":    path.Base(key),
	})
}

func (s *Server) handleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.rec.Snapshot(r.Context())
	if err != nil {
		s.log.Error("metrics snapshot", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAdminAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch body.Action {
	case "clear_metrics":
		if err := s.rec.Clear(r.Context()); err != nil {
			s.log.Error("clear metrics", zap.Error(err))
			respondInternal(w)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"message": "Metrics cleared successfully"})
	case "reset_queues":
		if err := s.jobs.Reset(r.Context()); err != nil {
			s.log.Error("reset queues", zap.Error(err))
			respondInternal(w)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"message": "Queues reset successfully"})
	default:
		respondError(w, http.StatusBadRequest, "Unknown action")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type svc struct {
		Status         string `json:"status"`
		ResponseTimeMs int64  `json:"responseTime"`
		Error          string `json:"error,omitempty"`
	}
	check := func(f func() error) svc {
		start := time.Now()
		err := f()
		out := svc{Status: "healthy", ResponseTimeMs: time.Since(start).Milliseconds()}
		if err != nil {
			out.Status = "unhealthy"
			out.Error = err.Error()
		}
		return out
	}

	ctx := r.Context()
	redisSvc := check(func() error { return s.jobs.Ping(ctx) })
	storeSvc := check(func() error { return s.store.Ping(ctx) })

	status := "healthy"
	code := http.StatusOK
	if redisSvc.Status != "healthy" || storeSvc.Status != "healthy" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respondJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": map[string]interface{}{
			"redis":   redisSvc,
			"storage": storeSvc,
		},
	})
}
