package music

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"VibeTune/config"
	"VibeTune/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

var (
	ErrEmptyPrompt   = errors.New("prompt is required")
	ErrNotConfigured = errors.New("music generation is not configured")
	ErrTimeout       = errors.New("request timeout - music generation took too long")
	ErrUnreachable   = errors.New("failed to connect to AI service")
	ErrNoAudio       = errors.New("no audio data received from AI model")
	ErrDecode        = errors.New("failed to decode audio data")
)

// UpstreamError is a non-2xx answer from the model endpoint.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus is the status a handler should answer with: client errors pass
// through, everything else becomes 500.
func (e *UpstreamError) HTTPStatus() int {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Request describes one text-to-music generation.
type Request struct {
	Prompt         string
	NegativePrompt string
}

// Generator produces audio from a text prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Audio, error)
}

// LyriaClient calls the Vertex AI Lyria predict endpoint.
type LyriaClient struct {
	endpoint string
	tokens   oauth2.TokenSource
	http     *http.Client
}

// NewLyriaClient builds a client from configuration. The bearer token comes
// from LYRIA_API_TOKEN when set, otherwise from the service-account key file.
// Without either, Generate returns ErrNotConfigured.
func NewLyriaClient(ctx context.Context, cfg *config.Config) (*LyriaClient, error) {
	var tokens oauth2.TokenSource
	switch {
	case cfg.LyriaAPIToken != "":
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.LyriaAPIToken})
	case cfg.GoogleCredentialsFile != "":
		data, err := os.ReadFile(cfg.GoogleCredentialsFile)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read credentials file: %w", err)
			}
			logger.Warn("[Lyria] credentials file not found, generation disabled",
				logger.String("path", cfg.GoogleCredentialsFile))
			break
		}
		creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials file: %w", err)
		}
		tokens = creds.TokenSource
	}
	return NewLyriaClientWithTokenSource(cfg.LyriaPredictURL(), tokens, cfg.GenerationTimeout), nil
}

// NewLyriaClientWithTokenSource creates a client for an explicit endpoint.
func NewLyriaClientWithTokenSource(endpoint string, tokens oauth2.TokenSource, timeout time.Duration) *LyriaClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &LyriaClient{
		endpoint: endpoint,
		tokens:   tokens,
		http:     &http.Client{Timeout: timeout},
	}
}

type predictInstance struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
}

type predictRequest struct {
	Instances  []predictInstance       `json:"instances"`
	Parameters map[string]interface{} `json:"parameters"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

type errorResponse struct {
	Error json.RawMessage `json:"error"`
}

// Generate submits the prompt and returns the decoded WAV audio.
func (c *LyriaClient) Generate(ctx context.Context, req Request) (*Audio, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if c.tokens == nil {
		return nil, ErrNotConfigured
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token: %v", ErrUnreachable, err)
	}

	body, err := json.Marshal(predictRequest{
		Instances:  []predictInstance{{Prompt: req.Prompt, NegativePrompt: req.NegativePrompt}},
		Parameters: map[string]interface{}{},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(httpReq)

	start := time.Now()
	logger.Info("[Lyria] generating", logger.Int("promptLength", len(req.Prompt)))
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode >= 400 {
		upstream := &UpstreamError{StatusCode: resp.StatusCode, Message: upstreamMessage(payload)}
		logger.Warn("[Lyria] upstream error",
			logger.Int("status", resp.StatusCode),
			logger.String("message", upstream.Message))
		return nil, upstream
	}

	var result predictResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(result.Predictions) == 0 || result.Predictions[0].BytesBase64Encoded == "" {
		return nil, ErrNoAudio
	}

	data, err := base64.StdEncoding.DecodeString(result.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	audio, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	logger.Info("[Lyria] generation finished",
		logger.Duration("took", time.Since(start)),
		logger.Float64("audioSeconds", audio.Duration),
		logger.Int("bytes", len(data)))
	return audio, nil
}

func upstreamMessage(payload []byte) string {
	const fallback = "Failed to generate song"
	var env errorResponse
	if err := json.Unmarshal(payload, &env); err != nil || len(env.Error) == 0 {
		return fallback
	}
	var detailed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &detailed); err == nil && detailed.Message != "" {
		return detailed.Message
	}
	var plain string
	if err := json.Unmarshal(env.Error, &plain); err == nil && plain != "" {
		return plain
	}
	return fallback
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
