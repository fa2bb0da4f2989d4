package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/abap-agent/internal/assistant"
	"github.com/xaenox/abap-agent/internal/document"
	"github.com/xaenox/abap-agent/internal/metrics"
	"github.com/xaenox/abap-agent/internal/models"
)

const defaultUploadMessage = "I've uploaded a file for processing."

// Assistant relays submissions to an assistant thread and waits for the run.
type Assistant struct {
	adapter     *assistant.Adapter
	attachFiles bool
	logger      *zap.Logger
}

// NewAssistant wraps adapter. With attachFiles set, uploads go through the
// file store as message attachments instead of being inlined as text.
func NewAssistant(adapter *assistant.Adapter, attachFiles bool, logger *zap.Logger) *Assistant {
	return &Assistant{
		adapter:     adapter,
		attachFiles: attachFiles,
		logger:      logger,
	}
}

func (a *Assistant) Name() string { return "assistant" }

// Available has no cheap probe against the assistant service.
func (a *Assistant) Available(ctx context.Context) bool { return true }

func (a *Assistant) CreateThread(ctx context.Context) (string, error) {
	return a.adapter.CreateThread(ctx)
}

func (a *Assistant) Messages(ctx context.Context, threadID string, limit int) ([]models.Message, error) {
	return a.adapter.ListMessages(ctx, threadID, limit)
}

// Submit appends req to its thread, creating one when req.ThreadID is empty,
// and returns the assistant's answer.
func (a *Assistant) Submit(ctx context.Context, req Request) (*models.Reply, error) {
	start := time.Now()
	reply, err := a.submit(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.BackendDuration.WithLabelValues(a.Name(), outcome).Observe(time.Since(start).Seconds())
	return reply, err
}

func (a *Assistant) submit(ctx context.Context, req Request) (*models.Reply, error) {
	threadID := req.ThreadID
	if threadID == "" {
		id, err := a.adapter.CreateThread(ctx)
		if err != nil {
			return nil, err
		}
		threadID = id
	}

	text := req.Message
	var attachments []string
	if len(req.File) > 0 {
		message := req.Message
		if message == "" {
			message = defaultUploadMessage
		}

		if a.attachFiles {
			fileID, err := a.adapter.UploadFile(ctx, req.Filename, req.File)
			if err != nil {
				return nil, err
			}
			defer a.adapter.DeleteFile(context.WithoutCancel(ctx), fileID)
			attachments = append(attachments, fileID)
			text = fmt.Sprintf("%s\n\nFile: %s", message, req.Filename)
		} else {
			text = fmt.Sprintf("%s\n\nFile: %s\n\n%s", message, req.Filename, document.ToText(req.File, req.Filename))
		}
	}

	if _, err := a.adapter.AddMessage(ctx, threadID, text, attachments...); err != nil {
		return nil, err
	}

	msg, err := a.adapter.RunAndWait(ctx, threadID, req.Category)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Assistant replied",
		zap.String("thread_id", threadID),
		zap.String("message_id", msg.ID),
		zap.Int("content_length", len(msg.Content)))

	return &models.Reply{
		Success:   true,
		ThreadID:  threadID,
		MessageID: msg.ID,
		Role:      msg.Role,
		Filename:  req.Filename,
		Content:   msg.Content,
	}, nil
}
