package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/xaenox/abap-agent/internal/models"
)

// API is the part of the assistant service the adapter talks to.
type API interface {
	CreateThread(ctx context.Context) (string, error)
	CreateMessage(ctx context.Context, threadID, text string, fileIDs []string) (string, error)
	CreateRun(ctx context.Context, threadID, assistantID string) (models.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (models.Run, error)
	// ListMessages returns up to limit messages; order is "asc" or "desc".
	ListMessages(ctx context.Context, threadID string, limit int, order string) ([]models.Message, error)
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// OpenAIClient implements API on top of the OpenAI Assistants endpoints.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient builds a client for apiKey. An empty baseURL keeps the
// library default; httpClient may be nil.
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", wrapOpenAI("create thread", err)
	}
	return thread.ID, nil
}

func (c *OpenAIClient) CreateMessage(ctx context.Context, threadID, text string, fileIDs []string) (string, error) {
	req := openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: text,
	}
	for _, id := range fileIDs {
		req.Attachments = append(req.Attachments, openai.ThreadAttachment{
			FileID: id,
			Tools:  []openai.ThreadAttachmentTool{{Type: "file_search"}},
		})
	}

	msg, err := c.client.CreateMessage(ctx, threadID, req)
	if err != nil {
		return "", wrapOpenAI("add message", err)
	}
	return msg.ID, nil
}

func (c *OpenAIClient) CreateRun(ctx context.Context, threadID, assistantID string) (models.Run, error) {
	run, err := c.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return models.Run{}, wrapOpenAI("create run", err)
	}
	return convertRun(run), nil
}

func (c *OpenAIClient) RetrieveRun(ctx context.Context, threadID, runID string) (models.Run, error) {
	run, err := c.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return models.Run{}, wrapOpenAI("retrieve run", err)
	}
	return convertRun(run), nil
}

func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string, limit int, order string) ([]models.Message, error) {
	list, err := c.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, wrapOpenAI("list messages", err)
	}

	messages := make([]models.Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		messages = append(messages, convertMessage(m))
	}
	return messages, nil
}

func (c *OpenAIClient) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	file, err := c.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", wrapOpenAI("upload file", err)
	}
	return file.ID, nil
}

func (c *OpenAIClient) DeleteFile(ctx context.Context, fileID string) error {
	if err := c.client.DeleteFile(ctx, fileID); err != nil {
		return wrapOpenAI("delete file", err)
	}
	return nil
}

func convertRun(run openai.Run) models.Run {
	r := models.Run{
		ID:       run.ID,
		ThreadID: run.ThreadID,
		Status:   models.RunStatus(run.Status),
	}
	if run.LastError != nil {
		r.LastError = fmt.Sprintf("%s: %s", run.LastError.Code, run.LastError.Message)
	}
	return r
}

// convertMessage joins the text segments of m in order; image segments
// carry no text and are skipped.
func convertMessage(m openai.Message) models.Message {
	var b strings.Builder
	for _, content := range m.Content {
		if content.Text != nil {
			b.WriteString(content.Text.Value)
		}
	}
	return models.Message{
		ID:        m.ID,
		Role:      models.Role(m.Role),
		Content:   b.String(),
		CreatedAt: time.Unix(int64(m.CreatedAt), 0).UTC(),
	}
}

func wrapOpenAI(op string, err error) error {
	ue := &UpstreamError{Op: op, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		ue.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		ue.StatusCode = reqErr.HTTPStatusCode
	}
	return ue
}
