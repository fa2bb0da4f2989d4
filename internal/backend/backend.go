// Package backend puts the assistant and workflow adapters behind one
// send-input, get-reply contract chosen at startup.
package backend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/abap-agent/internal/assistant"
	"github.com/xaenox/abap-agent/internal/models"
	"github.com/xaenox/abap-agent/internal/workflow"
	"github.com/xaenox/abap-agent/pkg/config"
)

// ErrFileRequired is returned by backends that only accept file uploads.
var ErrFileRequired = errors.New("a file is required by this backend")

// Request is one user submission. File is empty for plain chat messages.
type Request struct {
	ThreadID string
	Message  string
	Category string
	Filename string
	File     []byte
}

// Backend defines the contract for code-generation backends.
type Backend interface {
	Name() string
	Submit(ctx context.Context, req Request) (*models.Reply, error)
	Available(ctx context.Context) bool
}

// Threads is implemented by backends that keep a remote conversation.
type Threads interface {
	CreateThread(ctx context.Context) (string, error)
	Messages(ctx context.Context, threadID string, limit int) ([]models.Message, error)
}

// New builds the backend selected by cfg.Backend.
func New(cfg *config.Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendAssistant:
		api := assistant.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, nil)
		adapter := assistant.New(api, assistant.Config{
			DefaultAssistant: cfg.OpenAI.AssistantID,
			Assistants:       cfg.OpenAI.Assistants,
			PollInterval:     cfg.OpenAI.PollInterval,
			MaxPollAttempts:  cfg.OpenAI.MaxPollAttempts,
		}, logger.Named("assistant"))
		return NewAssistant(adapter, cfg.OpenAI.AttachFiles, logger), nil
	case config.BackendWorkflow:
		client := workflow.NewClient(cfg.Workflow.WebhookURL, cfg.Workflow.WebhookTimeout(), logger.Named("workflow"))
		return NewWorkflow(client, logger), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
