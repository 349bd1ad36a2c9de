package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mentorchat/mentorchat/internal/config"
	"go.uber.org/zap"
)

const assistantTimeout = 45 * time.Second

const systemPrompt = "You are MentorAI, a versatile and knowledgeable learning assistant in a " +
	"study group chat. You can help with ANY topic the user is curious about. Your goal is to " +
	"be an encouraging, patient, and insightful mentor who makes learning enjoyable and " +
	"accessible. Always provide clear, accurate, and engaging explanations tailored to the " +
	"user's level. Use examples, analogies, and practical applications when helpful. Break " +
	"down complex topics into understandable parts and encourage further learning with " +
	"thoughtful follow-up questions. When listing items or steps, use proper markdown " +
	"formatting: numbered lists (1. 2. 3.) for ordered items, and bullet points (- ) for " +
	"unordered items."

// AssistantRequest is the relay's inbound shape: the tagged message plus
// the recent-context window the client gathered.
type AssistantRequest struct {
	Message string   `json:"message"`
	Context []string `json:"context"`
}

// AssistantRelay forwards tagged questions to an OpenRouter-compatible
// chat-completions endpoint and returns the reply text.
type AssistantRelay struct {
	cfg    *config.HubConfig
	client *http.Client
	logger *zap.Logger
}

// NewAssistantRelay creates the relay with a bounded request timeout.
func NewAssistantRelay(cfg *config.HubConfig, logger *zap.Logger) *AssistantRelay {
	return &AssistantRelay{
		cfg:    cfg,
		client: &http.Client{Timeout: assistantTimeout},
		logger: logger,
	}
}

type completionRequest struct {
	Model       string              `json:"model"`
	Messages    []completionMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Reply calls the upstream model and returns the reply text.
func (a *AssistantRelay) Reply(ctx context.Context, req *AssistantRequest) (string, error) {
	if a.cfg.AssistantKey == "" {
		return "", fmt.Errorf("assistant is not configured")
	}

	userContent := fmt.Sprintf(
		"Context from recent messages:\n%s\n\nTagged Question: %s\n\nPlease provide a helpful educational response.",
		strings.Join(req.Context, "\n"), req.Message)

	body, err := json.Marshal(&completionRequest{
		Model: a.cfg.AssistantModel,
		Messages: []completionMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, assistantTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.AssistantURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.AssistantKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Title", "MentorAI Study Group")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call model endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("model endpoint error: %s", msg)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}

	a.logger.Info("assistant reply generated", zap.Int("context_lines", len(req.Context)))
	return out.Choices[0].Message.Content, nil
}
