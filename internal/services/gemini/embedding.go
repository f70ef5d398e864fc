package gemini

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/healthpulse/pulse/internal/models"
)

// Provider implements EmbeddingProvider over the Google Gemini embedding
// API. Initialize, one Generate and Cleanup are driven by the embedding
// worker inside a single cooperative scope per message; Cleanup is idempotent
// and safe on every exit path.
type Provider struct {
	apiKey    string
	model     string
	dimension int
	logger    arbor.ILogger

	mu     sync.Mutex
	client *genai.Client
}

// NewProvider creates the embedding provider. No connection is made until
// Initialize.
func NewProvider(apiKey, model string, dimension int, logger arbor.ILogger) *Provider {
	return &Provider{
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		logger:    logger,
	}
}

// Initialize prepares the client for one unit of work.
func (p *Provider) Initialize(ctx context.Context, tenantID int) error {
	if p.apiKey == "" {
		return models.Errorf(models.ErrKindAuth, "embedding api key not configured")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return models.NewError(models.ErrKindAuth, err)
	}
	p.client = client

	p.logger.Debug().
		Int("tenant_id", tenantID).
		Str("model", p.model).
		Msg("Embedding provider initialized")

	return nil
}

// Generate returns one fixed-dimension vector per input text, in order.
func (p *Provider) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil, models.Errorf(models.ErrKindPermanent, "embedding provider not initialized")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	resp, err := client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(p.dimension)),
	})
	if err != nil {
		return nil, models.NewError(models.ErrKindTransient, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, models.Errorf(models.ErrKindTransient, "embedding count mismatch: sent %d, got %d", len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		vectors = append(vectors, emb.Values)
	}
	return vectors, nil
}

// Cleanup releases provider-internal resources. Idempotent.
func (p *Provider) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = nil
	return nil
}

// Dimension returns the configured vector dimension.
func (p *Provider) Dimension() int {
	return p.dimension
}
