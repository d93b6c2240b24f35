// Package gemini provides the LLM fallback decoder backed by the Google
// Gemini API: when the primary decoder can't read a barcode, the
// normalized image is sent here with a request for structured JSON back.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
)

const (
	DefaultModel       = "gemini-3-flash-preview"
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.1 // low temperature: this is a reading task, not a creative one
)

// Client implements interfaces.LLMClient against the Gemini API.
type Client struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *common.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithModel sets the model to use.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithMaxTokens caps the output token budget for a decode request.
func WithMaxTokens(maxTokens int) ClientOption {
	return func(c *Client) { c.maxTokens = maxTokens }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) ClientOption {
	return func(c *Client) { c.temperature = temperature }
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client:      genaiClient,
		model:       DefaultModel,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		logger:      common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Close closes the client.
func (c *Client) Close() error {
	// genai.Client has no Close method to release.
	return nil
}

// decodePrompt instructs the model to report every barcode candidate it
// can actually read rather than guessing digits it can't make out —
// confabulated codes fail checksum validation downstream anyway, but
// asking up front keeps the fallback path honest about confidence.
const decodePrompt = `You are inspecting a product photo for a printed retail barcode: EAN-13, EAN-8, UPC-A, or UPC-E. Read any barcode digits you can actually see, even if the image is blurry, rotated, or partially obscured by a label fold or glare. List every candidate you find, most confident first, with a confidence score between 0 and 1. If you cannot find a barcode at all, return an empty codes array. Do not guess digits you cannot read.`

// decodeSchema constrains the model's response to a parseable list of
// barcode candidates instead of free text.
var decodeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"codes": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"code":       {Type: genai.TypeString},
					"symbology":  {Type: genai.TypeString, Enum: []string{"EAN13", "EAN8", "UPCA", "UPCE", "UNKNOWN"}},
					"confidence": {Type: genai.TypeNumber},
				},
				Required: []string{"code", "symbology", "confidence"},
			},
		},
	},
	Required: []string{"codes"},
}

type decodeResponse struct {
	Codes []struct {
		Code       string  `json:"code"`
		Symbology  string  `json:"symbology"`
		Confidence float64 `json:"confidence"`
	} `json:"codes"`
}

// DecodeBarcode implements interfaces.LLMClient. It sends imageBytes to
// Gemini with a structured-output request and returns every candidate
// code the model reports, plus the total tokens the call consumed (for
// Processing.LLMTokensUsed bookkeeping).
func (c *Client) DecodeBarcode(ctx context.Context, imageBytes []byte, mimeType string) ([]interfaces.DecodedCode, int64, error) {
	imagePart := genai.NewPartFromBytes(imageBytes, mimeType)
	textPart := genai.NewPartFromText(decodePrompt)
	content := genai.NewContentFromParts([]*genai.Part{imagePart, textPart}, genai.RoleUser)

	temp := float32(c.temperature)
	maxTokens := int32(c.maxTokens)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   decodeSchema,
		Temperature:      &temp,
		MaxOutputTokens:  maxTokens,
	}

	c.logger.Debug().Str("model", c.model).Msg("requesting fallback barcode decode")

	result, err := c.client.Models.GenerateContent(ctx, c.model, []*genai.Content{content}, config)
	if err != nil {
		return nil, 0, fmt.Errorf("gemini fallback decode request failed: %w", err)
	}

	var tokensUsed int64
	if result.UsageMetadata != nil {
		tokensUsed = int64(result.UsageMetadata.TotalTokenCount)
	}

	text, err := extractTextFromResponse(result)
	if err != nil {
		return nil, tokensUsed, fmt.Errorf("gemini fallback decode returned no content: %w", err)
	}

	var parsed decodeResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, tokensUsed, fmt.Errorf("gemini fallback decode returned unparseable JSON: %w", err)
	}

	codes := make([]interfaces.DecodedCode, 0, len(parsed.Codes))
	for _, code := range parsed.Codes {
		codes = append(codes, interfaces.DecodedCode{
			Code:       code.Code,
			Symbology:  code.Symbology,
			Confidence: code.Confidence,
		})
	}
	return codes, tokensUsed, nil
}

// extractTextFromResponse extracts text from a generate content response.
func extractTextFromResponse(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	text := ""
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}

	return text, nil
}

// Ensure Client implements interfaces.LLMClient.
var _ interfaces.LLMClient = (*Client)(nil)
