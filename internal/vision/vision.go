package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"atelier/internal/config"
)

// Provider represents a logical vision model provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// DefaultSystemPrompt is the listing prompt used when the config does
// not override it.
const DefaultSystemPrompt = `You are a Senior E-commerce Fashion Specialist.
Analyze the garment image and generate a product listing in the EXACT following format:

Name: [Create a catchy, descriptive product name]

Description (4 lines):
- Line 1: Describe the primary fabric, pattern, and main design feature.
- Line 2: Detail the specific accents (like borders, zari, or textures).
- Line 3: Mention the fit, drape, or how it feels to wear.
- Line 4: Suggest the best occasions or the overall style value.

Use elegant, inviting language suitable for a high-end e-commerce website.`

// DefaultUserPrompt accompanies the image in the user turn.
const DefaultUserPrompt = "Review this garment image and fill every bullet. Favor exact fashion terminology."

// Request carries one garment image to describe.
type Request struct {
	Image    []byte
	MimeType string
	Filename string
}

// Result is the upstream model's answer for one image.
type Result struct {
	Description string
	Tokens      int
}

// Describer is the executor abstraction consumed by the dispatcher.
type Describer interface {
	Describe(ctx context.Context, req Request) (Result, error)
}

// NewDescriberFromConfig constructs a Describer based on global config.
func NewDescriberFromConfig(cfg *config.Config) (Describer, Provider, string, error) {
	systemPrompt := cfg.LLM.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	userPrompt := cfg.LLM.UserPrompt
	if userPrompt == "" {
		userPrompt = DefaultUserPrompt
	}

	prov := Provider(cfg.LLM.DefaultProvider)
	if prov == "" {
		prov = ProviderOpenAI
	}

	switch prov {
	case ProviderOpenAI:
		openaiCfg := cfg.LLM.OpenAI
		model := openaiCfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		if openaiCfg.APIKey == "" {
			return nil, prov, model, errors.New("openai vision provider is not fully configured")
		}
		return &openAIClient{
			apiKey:       openaiCfg.APIKey,
			baseURL:      openaiCfg.BaseURL,
			model:        model,
			systemPrompt: systemPrompt,
			userPrompt:   userPrompt,
			http:         &http.Client{},
		}, prov, model, nil
	case ProviderAnthropic:
		anthCfg := cfg.LLM.Anthropic
		model := anthCfg.Model
		if anthCfg.APIKey == "" || model == "" {
			return nil, prov, model, errors.New("anthropic vision provider is not fully configured")
		}
		return &anthropicClient{
			apiKey:       anthCfg.APIKey,
			model:        model,
			systemPrompt: systemPrompt,
			userPrompt:   userPrompt,
			http:         &http.Client{},
		}, prov, model, nil
	case ProviderGoogle:
		googleCfg := cfg.LLM.Google
		model := googleCfg.Model
		if googleCfg.APIKey == "" || model == "" {
			return nil, prov, model, errors.New("google vision provider is not fully configured")
		}
		return &googleClient{
			apiKey:       googleCfg.APIKey,
			model:        model,
			systemPrompt: systemPrompt,
			userPrompt:   userPrompt,
			http:         &http.Client{},
		}, prov, model, nil
	default:
		return nil, prov, "", fmt.Errorf("unsupported vision provider: %s", cfg.LLM.DefaultProvider)
	}
}

// openAIClient implements Describer using OpenAI-compatible Chat
// Completions with an image_url content part.
type openAIClient struct {
	apiKey       string
	baseURL      string
	model        string
	systemPrompt string
	userPrompt   string
	http         *http.Client
}

// anthropicClient implements Describer using Anthropic's Messages API
// with a base64 image source block.
type anthropicClient struct {
	apiKey       string
	model        string
	systemPrompt string
	userPrompt   string
	http         *http.Client
}

// googleClient implements Describer using Google Gemini's
// generateContent with an inline_data part.
type googleClient struct {
	apiKey       string
	model        string
	systemPrompt string
	userPrompt   string
	http         *http.Client
}

// openAIChatRequest is a minimal representation of the Chat Completions API.
type openAIChatRequest struct {
	Model     string              `json:"model"`
	Messages  []openAIChatMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// anthropicMessagesRequest & response are minimal shapes for Anthropic's Messages API.
type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// googleGenerateContentRequest & response are minimal shapes for Gemini's generateContent.
type googleGenerateContentRequest struct {
	SystemInstruction *googleContent  `json:"system_instruction,omitempty"`
	Contents          []googleContent `json:"contents"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *googleInlineData `json:"inline_data,omitempty"`
}

type googleInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type googleGenerateContentResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (c *openAIClient) Describe(ctx context.Context, req Request) (Result, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mediaType(req.MimeType), base64.StdEncoding.EncodeToString(req.Image))

	body := openAIChatRequest{
		Model: c.model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: c.systemPrompt},
			{
				Role: "user",
				Content: []openAIContentPart{
					{Type: "text", Text: c.userPrompt},
					{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL}},
				},
			},
		},
		MaxTokens: 800,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}

	endpoint := c.baseURL
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	endpoint = endpoint + "/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("openai chat completion failed with status %d", resp.StatusCode)
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, err
	}
	if len(parsed.Choices) == 0 {
		return Result{}, errors.New("openai chat completion returned no choices")
	}

	description := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if description == "" {
		return Result{}, errors.New("openai chat completion returned empty content")
	}

	return Result{Description: description, Tokens: parsed.Usage.TotalTokens}, nil
}

func (c *anthropicClient) Describe(ctx context.Context, req Request) (Result, error) {
	body := anthropicMessagesRequest{
		Model:     c.model,
		MaxTokens: 800,
		System:    c.systemPrompt,
		Messages: []anthropicMessage{
			{
				Role: "user",
				Content: []anthropicContent{
					{
						Type: "image",
						Source: &anthropicImageSource{
							Type:      "base64",
							MediaType: mediaType(req.MimeType),
							Data:      base64.StdEncoding.EncodeToString(req.Image),
						},
					},
					{Type: "text", Text: c.userPrompt},
				},
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}

	endpoint := "https://api.anthropic.com/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("anthropic messages request failed with status %d", resp.StatusCode)
	}

	var parsed anthropicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, err
	}
	if len(parsed.Content) == 0 {
		return Result{}, errors.New("anthropic messages returned no content")
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	description := strings.TrimSpace(sb.String())
	if description == "" {
		return Result{}, errors.New("anthropic messages returned no text blocks")
	}

	tokens := parsed.Usage.InputTokens + parsed.Usage.OutputTokens
	return Result{Description: description, Tokens: tokens}, nil
}

func (c *googleClient) Describe(ctx context.Context, req Request) (Result, error) {
	body := googleGenerateContentRequest{
		SystemInstruction: &googleContent{
			Parts: []googlePart{{Text: c.systemPrompt}},
		},
		Contents: []googleContent{
			{
				Parts: []googlePart{
					{Text: c.userPrompt},
					{InlineData: &googleInlineData{
						MimeType: mediaType(req.MimeType),
						Data:     base64.StdEncoding.EncodeToString(req.Image),
					}},
				},
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}

	base := "https://generativelanguage.googleapis.com/v1beta"
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, c.model, url.QueryEscape(c.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("google generateContent failed with status %d", resp.StatusCode)
	}

	var parsed googleGenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, err
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Result{}, errors.New("google generateContent returned no candidates")
	}

	// Concatenate all parts' text for simplicity.
	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	description := strings.TrimSpace(sb.String())
	if description == "" {
		return Result{}, errors.New("google generateContent returned empty content")
	}

	return Result{Description: description, Tokens: parsed.UsageMetadata.TotalTokenCount}, nil
}

// mediaType normalizes an upload's MIME type to something the vision
// APIs accept, defaulting to PNG when the upload did not declare one.
func mediaType(mime string) string {
	mime = strings.TrimSpace(strings.ToLower(mime))
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		return "image/png"
	}
	return mime
}
