package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"VibeTune/config"
	"VibeTune/core/prompt"
	"VibeTune/core/retry"
	"VibeTune/logger"

	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model answers with no usable text.
var ErrEmptyResponse = errors.New("empty response from model")

// Generator is the subset of genai.Models used by Analyzer.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Source tells where a prompt came from.
type Source string

const (
	SourceVideo    Source = "video"
	SourceText     Source = "text"
	SourceFallback Source = "fallback"
)

// Video is a captured clip sent inline to the model.
type Video struct {
	Data     []byte
	MIMEType string
}

// Result is the resolved music prompt.
type Result struct {
	Prompt string
	Source Source
}

// Analyzer turns a video plus annotation into a music prompt. Prompt never
// fails: when the model is unavailable the keyword fallback is used.
type Analyzer struct {
	models Generator
	model  string
	policy retry.Policy
}

// NewAnalyzer creates a Gemini-backed analyzer. Without an API key it returns
// an analyzer that always uses the fallback.
func NewAnalyzer(ctx context.Context, cfg *config.Config) (*Analyzer, error) {
	policy := retry.DefaultPolicy("gemini")
	if cfg.GeminiMaxAttempts > 0 {
		policy.MaxAttempts = cfg.GeminiMaxAttempts
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn("[Vision] GEMINI_API_KEY not set, prompts will use the keyword fallback")
		return NewAnalyzerWithModels(nil, cfg.GeminiModel, policy), nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return NewAnalyzerWithModels(client.Models, cfg.GeminiModel, policy), nil
}

// NewAnalyzerWithModels wires an analyzer around any Generator.
func NewAnalyzerWithModels(models Generator, model string, policy retry.Policy) *Analyzer {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	return &Analyzer{models: models, model: model, policy: policy}
}

// Prompt resolves a music prompt: video analysis under the attempt policy,
// then a single text-only request from the annotation, then the fallback.
func (a *Analyzer) Prompt(ctx context.Context, video *Video, annotation string) Result {
	result := Result{Source: SourceFallback}
	if a.models == nil {
		result.Prompt = prompt.Fallback(annotation)
		return result
	}

	var videoStep, textStep retry.Step[Result]
	if video != nil && len(video.Data) > 0 {
		videoStep = func(ctx context.Context) (Result, error) {
			text, err := retry.Do(ctx, a.policy, func(ctx context.Context, attempt int) (string, error) {
				logger.Info("[Vision] analysing video",
					logger.Int("attempt", attempt),
					logger.Int("bytes", len(video.Data)))
				return a.generate(ctx, videoContents(video, annotation))
			})
			return Result{Prompt: text, Source: SourceVideo}, err
		}
	}
	if strings.TrimSpace(annotation) != "" {
		textStep = func(ctx context.Context) (Result, error) {
			logger.Info("[Vision] falling back to text-only request")
			text, err := a.generate(ctx, []*genai.Content{
				genai.NewContentFromText(prompt.TextOnly(annotation), genai.RoleUser),
			})
			return Result{Prompt: text, Source: SourceText}, err
		}
	}

	return retry.FirstSuccess(ctx, func() Result {
		logger.Warn("[Vision] all model requests failed, using keyword fallback")
		return Result{Prompt: prompt.Fallback(annotation), Source: SourceFallback}
	}, videoStep, textStep)
}

func (a *Analyzer) generate(ctx context.Context, contents []*genai.Content) (string, error) {
	resp, err := a.models.GenerateContent(ctx, a.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.SystemInstruction, genai.RoleUser),
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	text := prompt.Clean(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func videoContents(video *Video, annotation string) []*genai.Content {
	mimeType := video.MIMEType
	if mimeType == "" {
		mimeType = "video/webm"
	}
	var parts []*genai.Part
	if prefix := prompt.WithAnnotation(annotation); prefix != "" {
		parts = append(parts, genai.NewPartFromText(prefix))
	}
	parts = append(parts, genai.NewPartFromBytes(video.Data, mimeType))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// IsTransient reports whether a model error looks temporary: 5xx, 429 or an
// "internal error" message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code >= http.StatusInternalServerError || apiErr.Code == http.StatusTooManyRequests {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "internal server error") || strings.Contains(msg, "internal error")
}
