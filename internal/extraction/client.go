package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"snapcal/internal/models"
)

const (
	defaultEndpoint    = "https://api.openai.com/v1/chat/completions"
	defaultModel       = "gpt-3.5-turbo"
	defaultTemperature = 0.3

	// maxResponseBytes bounds how much of a completion body is read.
	maxResponseBytes = 4 << 20
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request represents the completion request body.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

// Response is the subset of the completion response the adapter reads. Pointer
// fields distinguish a missing structure from an empty one.
type Response struct {
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice.
type Choice struct {
	Message *ChoiceMessage `json:"message"`
}

// ChoiceMessage holds the generated content.
type ChoiceMessage struct {
	Content *string `json:"content"`
}

// Config holds the extraction service settings.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	Location    *time.Location // zone for timestamps without an offset
	HTTPClient  *http.Client
}

// Client turns transcripts into candidate events through a language model.
type Client struct {
	logger      *slog.Logger
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	location    *time.Location
	httpClient  *http.Client
	now         func() time.Time
}

// NewClient creates a new extraction client, filling defaults for empty fields.
func NewClient(logger *slog.Logger, cfg Config) *Client {
	c := &Client{
		logger:      logger,
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		location:    cfg.Location,
		httpClient:  cfg.HTTPClient,
		now:         time.Now,
	}
	if c.endpoint == "" {
		c.endpoint = defaultEndpoint
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.temperature == 0 {
		c.temperature = defaultTemperature
	}
	if c.location == nil {
		c.location = time.Local
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

// ExtractEvents sends the transcript to the completion service and returns the
// detected events, ids assigned by position starting at 0.
func (c *Client) ExtractEvents(ctx context.Context, transcript models.Transcript) ([]models.CandidateEvent, error) {
	body, err := json.Marshal(Request{
		Model:       c.model,
		Messages:    buildMessages(string(transcript)),
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("Requesting event extraction.", "model", c.model, "chars", len(transcript))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &models.PipelineError{
			Stage:   models.StageExtraction,
			Kind:    models.KindServiceError,
			Status:  resp.StatusCode,
			Message: truncate(strings.TrimSpace(string(data)), 200),
		}
	}

	content, err := messageContent(data)
	if err != nil {
		return nil, err
	}

	events, err := parseContent(content, c.now(), c.location)
	if err != nil {
		c.logger.Warn("Failed to parse model output.", "content", truncate(content, 200))
		return nil, err
	}

	c.logger.Info("Extracted events from transcript.", "count", len(events))
	return events, nil
}

// messageContent pulls choices[0].message.content out of a success body.
func messageContent(data []byte) (string, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &models.PipelineError{
			Stage:   models.StageExtraction,
			Kind:    models.KindMalformedResponse,
			Message: "response body is not JSON",
			Err:     err,
		}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return "", models.NewError(models.StageExtraction, models.KindMalformedResponse,
			"response lacks choices[0].message.content")
	}
	return *resp.Choices[0].Message.Content, nil
}

// transportError maps a failed round trip to ServiceError.
func transportError(err error) error {
	status := 0
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		status = models.StatusTimeout
	}
	return &models.PipelineError{
		Stage:  models.StageExtraction,
		Kind:   models.KindServiceError,
		Status: status,
		Err:    err,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
