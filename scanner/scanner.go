package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"tripledgerapi/models"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var ErrMissingAPIKey = errors.New("missing-api-key")

// DefaultModels are tried in order until one answers. Each failed attempt is
// side-effect-free, so falling through to the next candidate is safe.
var DefaultModels = []string{"gemini-1.5-flash", "gemini-1.5-pro"}

const receiptPrompt = `
Analyze this image of a receipt. Extract the following information in JSON format only:
- amount: number (total amount)
- currency: string (e.g., USD, EUR) - infer from symbol if possible
- date: string (format YYYY-MM-DD)
- merchant: string (name of the place)
- category: string (one of: food, transport, accommodation, flight, shopping, entertainment, other). Infer based on merchant and items.
- description: string (brief summary of items)

If some fields are missing or unclear, make a best guess or leave null.
Return ONLY raw JSON, no code blocks.
`

type Analyzer interface {
	AnalyzeReceipt(ctx context.Context, image []byte, mimeType string) (*models.ScanResult, error)
}

// generator is the single outbound call the analyzer makes, kept narrow so
// tests can stand in for the provider.
type generator interface {
	generate(ctx context.Context, model string, image []byte, mimeType string) (string, error)
}

type GeminiAnalyzer struct {
	gen    generator
	models []string
}

func NewGeminiAnalyzer(ctx context.Context, apiKey string, candidates []string) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		log.Println(err)
		return nil, err
	}

	if len(candidates) == 0 {
		candidates = DefaultModels
	}

	return &GeminiAnalyzer{
		gen:    &geminiGenerator{client: client},
		models: candidates,
	}, nil
}

// AnalyzeReceipt sends the image to each candidate model in turn and decodes
// the first answer. A provider error moves on to the next candidate; a
// malformed answer is a hard failure for the whole call, no partial recovery.
func (a *GeminiAnalyzer) AnalyzeReceipt(ctx context.Context, image []byte, mimeType string) (*models.ScanResult, error) {
	if len(image) == 0 {
		return nil, errors.New("missing-image")
	}

	var lastErr error
	for _, model := range a.models {
		text, err := a.gen.generate(ctx, model, image, mimeType)
		if err != nil {
			log.Printf("model %s failed: %v", model, err)
			lastErr = err
			continue
		}

		return ParseScanResult(text)
	}

	if lastErr == nil {
		lastErr = errors.New("no-model-candidates")
	}

	return nil, lastErr
}

// ParseScanResult strips the code fences some models still emit despite the
// prompt, then decodes the six-field JSON object.
func ParseScanResult(text string) (*models.ScanResult, error) {
	jsonStr := strings.ReplaceAll(text, "```json", "")
	jsonStr = strings.ReplaceAll(jsonStr, "```", "")
	jsonStr = strings.TrimSpace(jsonStr)

	var result models.ScanResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		log.Println(err)
		return nil, err
	}

	return &result, nil
}

type geminiGenerator struct {
	client *genai.Client
}

func (g *geminiGenerator) generate(ctx context.Context, model string, image []byte, mimeType string) (string, error) {
	m := g.client.GenerativeModel(model)

	resp, err := m.GenerateContent(ctx,
		genai.Text(receiptPrompt),
		genai.Blob{MIMEType: mimeType, Data: image})
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty-response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}

	return sb.String(), nil
}
