package backend

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/abap-agent/internal/metrics"
	"github.com/xaenox/abap-agent/internal/models"
	"github.com/xaenox/abap-agent/internal/workflow"
)

// Workflow forwards uploads to the webhook in one call.
type Workflow struct {
	client *workflow.Client
	logger *zap.Logger
}

func NewWorkflow(client *workflow.Client, logger *zap.Logger) *Workflow {
	return &Workflow{
		client: client,
		logger: logger,
	}
}

func (w *Workflow) Name() string { return "workflow" }

func (w *Workflow) Available(ctx context.Context) bool {
	return w.client.HealthCheck(ctx)
}

// Submit never fails for webhook errors; they come back as an unsuccessful
// reply with a readable fallback content.
func (w *Workflow) Submit(ctx context.Context, req Request) (*models.Reply, error) {
	if len(req.File) == 0 {
		return nil, ErrFileRequired
	}

	var fields map[string]string
	if req.Message != "" {
		fields = map[string]string{"message": req.Message}
	}

	start := time.Now()
	res := w.client.Submit(ctx, req.File, req.Filename, fields)
	outcome := "ok"
	if !res.Success {
		outcome = "failed"
		w.logger.Warn("Workflow submission failed",
			zap.String("filename", req.Filename),
			zap.String("error", res.Error))
	}
	metrics.BackendDuration.WithLabelValues(w.Name(), outcome).Observe(time.Since(start).Seconds())

	return &models.Reply{
		Success:  res.Success,
		Filename: req.Filename,
		Content:  res.Content,
		Error:    res.Error,
	}, nil
}
