package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/abap-agent/internal/backend"
	"github.com/xaenox/abap-agent/internal/document"
	"github.com/xaenox/abap-agent/internal/metrics"
	"github.com/xaenox/abap-agent/internal/models"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 100
	multipartMemory     = 32 << 20
)

type rootResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Backend string `json:"backend"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Backend   string `json:"backend"`
	Reachable bool   `json:"reachable"`
}

type chatRequest struct {
	ThreadID  string `json:"thread_id"`
	Message   string `json:"message"`
	RicefType string `json:"ricef_type"`
}

type chatResponse struct {
	ThreadID  string      `json:"thread_id"`
	MessageID string      `json:"message_id"`
	Content   string      `json:"content"`
	Role      models.Role `json:"role"`
}

type threadResponse struct {
	ThreadID string `json:"thread_id"`
}

type messageResponse struct {
	ID        string      `json:"id"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt int64       `json:"created_at"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Status:  "healthy",
		Service: serviceName,
		Version: s.opts.Version,
		Backend: s.backend.Name(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reachable := s.backend.Available(r.Context())
	gauge := 0.0
	if reachable {
		gauge = 1
	}
	metrics.BackendAvailable.WithLabelValues(s.backend.Name()).Set(gauge)

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Backend:   s.backend.Name(),
		Reachable: reachable,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.backend.Submit(r.Context(), backend.Request{
		ThreadID: req.ThreadID,
		Message:  req.Message,
		Category: req.RicefType,
	})
	if err != nil {
		s.logger.Error("Chat failed",
			zap.Error(err),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("thread_id", req.ThreadID))
		writeError(w, statusFor(err), fmt.Sprintf("Chat failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ThreadID:  reply.ThreadID,
		MessageID: reply.MessageID,
		Content:   reply.Content,
		Role:      reply.Role,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("file too large. Max size: %d bytes", s.opts.MaxFileSize))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return
	}

	if err := document.Validate(header.Filename, int64(len(data)), s.opts.AllowedFileTypes, s.opts.MaxFileSize); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.UploadBytes.Observe(float64(len(data)))

	reply, err := s.backend.Submit(r.Context(), backend.Request{
		ThreadID: r.FormValue("thread_id"),
		Message:  r.FormValue("message"),
		Category: r.FormValue("ricef_type"),
		Filename: header.Filename,
		File:     data,
	})
	if err != nil {
		s.logger.Error("Upload failed",
			zap.Error(err),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("filename", header.Filename))
		writeError(w, statusFor(err), fmt.Sprintf("Upload failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleCreateThread(threads backend.Threads) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := threads.CreateThread(r.Context())
		if err != nil {
			s.logger.Error("Failed to create thread", zap.Error(err))
			writeError(w, statusFor(err), fmt.Sprintf("Failed to create thread: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, threadResponse{ThreadID: id})
	}
}

func (s *Server) handleListMessages(threads backend.Threads) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := r.PathValue("thread_id")

		limit := defaultMessageLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxMessageLimit {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxMessageLimit))
				return
			}
			limit = n
		}

		messages, err := threads.Messages(r.Context(), threadID, limit)
		if err != nil {
			s.logger.Error("Failed to get messages", zap.Error(err), zap.String("thread_id", threadID))
			writeError(w, statusFor(err), fmt.Sprintf("Failed to get messages: %v", err))
			return
		}

		resp := make([]messageResponse, 0, len(messages))
		for _, m := range messages {
			resp = append(resp, messageResponse{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt.Unix(),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleDeleteThread is a no-op: the assistant service offers no thread
// deletion to this relay.
func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Thread deletion not supported by the assistant service",
	})
}
