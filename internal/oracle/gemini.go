package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"repoforge/internal/config"
	"repoforge/internal/logging"
	"repoforge/internal/spec"
)

// GeminiClient implements Oracle and Planner with the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a client from the LLM config section.
func NewGeminiClient(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.LLM.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	model := cfg.LLM.Model
	if model == "" {
		model = "gemini-2.0-flash-lite"
	}
	logging.Oracle("using model %s", model)
	return &GeminiClient{client: client, model: model, timeout: cfg.GetLLMTimeout()}, nil
}

// Generate asks the model for the requested files.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Response, error) {
	text, err := c.complete(ctx, generateSystemPrompt, GeneratePrompt(req), "", 0.2)
	if err != nil {
		return Response{}, err
	}
	files := ParseFiles(text, req.Targets)
	logging.OracleDebug("generate: requested %d files, model returned %d", len(req.Targets), len(files))
	return Response{Files: files}, nil
}

// Plan asks the model for a JSON plan and decodes it.
func (c *GeminiClient) Plan(ctx context.Context, query string) (*spec.ProjectSpec, error) {
	text, err := c.complete(ctx, planSystemPrompt, PlanPrompt(query), "application/json", 0.3)
	if err != nil {
		return nil, err
	}
	return spec.DecodePlan(text)
}

// complete runs one model call. An in-flight call is bounded by the client timeout only;
// caller cancellation is observed by the caller between calls.
func (c *GeminiClient) complete(ctx context.Context, system, user, mimeType string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	timer := logging.StartTimer(logging.CategoryOracle, "GeminiClient.complete")
	defer timer.StopWithThreshold(30 * time.Second)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(temperature),
		ResponseMIMEType:  mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}
