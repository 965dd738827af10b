package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pixbot/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

// GenerateError carries the provider's diagnostic fields when a call
// exhausts its single retry without producing an image.
type GenerateError struct {
	StatusCode   int
	FinishReason string
	BlockReason  string
	Message      string
	RawBody      []byte // last raw response, for the debug upload toggle
}

func (e *GenerateError) Error() string {
	var sb strings.Builder
	sb.WriteString("image generation failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (http %d)", e.StatusCode)
	}
	if e.FinishReason != "" {
		fmt.Fprintf(&sb, " finish=%s", e.FinishReason)
	}
	if e.BlockReason != "" {
		fmt.Fprintf(&sb, " block=%s", e.BlockReason)
	}
	if e.Message != "" {
		fmt.Fprintf(&sb, ": %s", e.Message)
	}
	return sb.String()
}

// Gemini implements domain.Generator against a generateContent-style API
// that accepts ordered text and inline base64 image parts.
type Gemini struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type GeminiConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash-exp"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

type genRequest struct {
	Contents         []genContent `json:"contents"`
	GenerationConfig *genConfig   `json:"generationConfig,omitempty"`
}

type genContent struct {
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text       string     `json:"text,omitempty"`
	InlineData *genInline `json:"inlineData,omitempty"`
}

type genInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type genConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type genResponse struct {
	Candidates     []genCandidate `json:"candidates"`
	PromptFeedback *genFeedback   `json:"promptFeedback,omitempty"`
}

type genCandidate struct {
	Content      genContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type genFeedback struct {
	BlockReason string `json:"blockReason"`
}

// Generate sends prompt plus the ordered input images and returns the
// first image part of the response. When the first attempt produces no
// image it retries exactly once with relaxed output modalities; a second
// miss is terminal. This is a user-interactive path, so there is no
// backoff and no third attempt.
func (g *Gemini) Generate(ctx context.Context, images []domain.ImageInput, prompt string) (*domain.GeneratedImage, error) {
	parts := make([]genPart, 0, len(images)+1)
	parts = append(parts, genPart{Text: prompt})
	for _, img := range images {
		parts = append(parts, genPart{InlineData: &genInline{
			MimeType: img.Mime,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	img, genErr := g.attempt(ctx, parts, []string{"IMAGE"})
	if genErr == nil {
		return img, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	g.logger.Warn("generation yielded no image, retrying with relaxed modalities",
		"status", genErr.StatusCode, "finish", genErr.FinishReason, "block", genErr.BlockReason)

	img, genErr = g.attempt(ctx, parts, []string{"TEXT", "IMAGE"})
	if genErr == nil {
		return img, nil
	}
	return nil, genErr
}

func (g *Gemini) attempt(ctx context.Context, parts []genPart, modalities []string) (*domain.GeneratedImage, *GenerateError) {
	body := genRequest{
		Contents:         []genContent{{Parts: parts}},
		GenerationConfig: &genConfig{ResponseModalities: modalities},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, &GenerateError{Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.apiBase, g.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &GenerateError{Message: fmt.Sprintf("new request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &GenerateError{Message: fmt.Sprintf("request: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &GenerateError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &GenerateError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(respBody), 500),
			RawBody:    respBody,
		}
	}

	var parsed genResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &GenerateError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode: %v", err), RawBody: respBody}
	}

	genErr := &GenerateError{
		StatusCode: resp.StatusCode,
		Message:    "response contained no image part",
		RawBody:    respBody,
	}
	if parsed.PromptFeedback != nil {
		genErr.BlockReason = parsed.PromptFeedback.BlockReason
	}

	for _, cand := range parsed.Candidates {
		if genErr.FinishReason == "" {
			genErr.FinishReason = cand.FinishReason
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MimeType, "image/") {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				genErr.Message = fmt.Sprintf("decode image data: %v", err)
				continue
			}
			return &domain.GeneratedImage{Data: data, Mime: part.InlineData.MimeType}, nil
		}
	}

	return nil, genErr
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
