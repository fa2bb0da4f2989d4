// Package assistant turns the poll-based run API of the assistant service
// into synchronous calls.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/abap-agent/internal/metrics"
	"github.com/xaenox/abap-agent/internal/models"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Config struct {
	DefaultAssistant string
	// Assistants maps a lower-case category tag to an assistant identifier.
	Assistants      map[string]string
	PollInterval    time.Duration
	MaxPollAttempts int
	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc
}

type Adapter struct {
	api    API
	cfg    Config
	logger *zap.Logger
}

func New(api API, cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 60
	}
	return &Adapter{
		api:    api,
		cfg:    cfg,
		logger: logger,
	}
}

// CreateThread allocates a new conversation thread on the service.
func (a *Adapter) CreateThread(ctx context.Context) (string, error) {
	id, err := a.api.CreateThread(ctx)
	if err != nil {
		return "", upstream("create thread", err)
	}
	a.logger.Debug("Thread created", zap.String("thread_id", id))
	return id, nil
}

// AddMessage appends a user message to threadID and returns its id.
func (a *Adapter) AddMessage(ctx context.Context, threadID, text string, attachmentIDs ...string) (string, error) {
	id, err := a.api.CreateMessage(ctx, threadID, text, attachmentIDs)
	if err != nil {
		return "", upstream("add message", err)
	}
	return id, nil
}

// ResolveAssistant maps a category tag to an assistant identifier. Unknown
// or empty tags resolve to the default assistant.
func (a *Adapter) ResolveAssistant(category string) string {
	if id := a.cfg.Assistants[strings.ToLower(strings.TrimSpace(category))]; id != "" {
		return id
	}
	return a.cfg.DefaultAssistant
}

// RunAndWait starts a run on threadID and blocks until it completes, then
// returns the latest message of the thread.
func (a *Adapter) RunAndWait(ctx context.Context, threadID, category string) (*models.Message, error) {
	assistantID := a.ResolveAssistant(category)

	run, err := a.api.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("error").Inc()
		return nil, upstream("create run", err)
	}

	a.logger.Info("Run started",
		zap.String("thread_id", threadID),
		zap.String("run_id", run.ID),
		zap.String("assistant_id", assistantID))

	polls, err := a.wait(ctx, threadID, run.ID)
	metrics.RunPolls.Observe(float64(polls))
	if err != nil {
		a.logger.Warn("Run did not complete",
			zap.Error(err),
			zap.String("thread_id", threadID),
			zap.String("run_id", run.ID),
			zap.Int("polls", polls))
		return nil, err
	}

	messages, err := a.api.ListMessages(ctx, threadID, 1, "desc")
	if err != nil {
		return nil, upstream("list messages", err)
	}
	if len(messages) == 0 {
		return nil, ErrEmptyResponse
	}

	msg := messages[0]
	a.logger.Info("Run completed",
		zap.String("thread_id", threadID),
		zap.String("run_id", run.ID),
		zap.String("message_id", msg.ID),
		zap.Int("polls", polls))
	return &msg, nil
}

// wait polls the run until it reaches a terminal state or the attempt budget
// runs out. It returns the number of status polls made.
func (a *Adapter) wait(ctx context.Context, threadID, runID string) (int, error) {
	for attempt := 1; attempt <= a.cfg.MaxPollAttempts; attempt++ {
		run, err := a.api.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			metrics.RunsTotal.WithLabelValues("error").Inc()
			return attempt, upstream("retrieve run", err)
		}

		if run.Status.Terminal() {
			metrics.RunsTotal.WithLabelValues(string(run.Status)).Inc()
			if run.Status == models.RunCompleted {
				return attempt, nil
			}
			return attempt, &RunFailedError{RunID: runID, Status: run.Status, Detail: run.LastError}
		}

		if attempt == a.cfg.MaxPollAttempts {
			break
		}
		if err := a.cfg.Sleep(ctx, a.cfg.PollInterval); err != nil {
			metrics.RunsTotal.WithLabelValues("abandoned").Inc()
			return attempt, err
		}
	}

	metrics.RunsTotal.WithLabelValues("timeout").Inc()
	return a.cfg.MaxPollAttempts, fmt.Errorf("%w: run %s not finished after %d polls", ErrRunTimeout, runID, a.cfg.MaxPollAttempts)
}

// ListMessages returns up to limit messages of threadID, oldest first.
func (a *Adapter) ListMessages(ctx context.Context, threadID string, limit int) ([]models.Message, error) {
	messages, err := a.api.ListMessages(ctx, threadID, limit, "asc")
	if err != nil {
		return nil, upstream("list messages", err)
	}
	return messages, nil
}

// UploadFile stores data with the service for use as a message attachment.
func (a *Adapter) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	id, err := a.api.UploadFile(ctx, name, data)
	if err != nil {
		return "", upstream("upload file", err)
	}
	return id, nil
}

// DeleteFile removes an uploaded file. Failures are logged and reported as false.
func (a *Adapter) DeleteFile(ctx context.Context, fileID string) bool {
	if err := a.api.DeleteFile(ctx, fileID); err != nil {
		a.logger.Error("Failed to delete file", zap.Error(err), zap.String("file_id", fileID))
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
