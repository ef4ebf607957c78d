package llm

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_llm.go -package=mocks docqa-ai/internal/llm Generator,Embedder

import "context"

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the model for a particular output shape.
type ResponseFormat string

const (
	// FormatText is free-form text (the default).
	FormatText ResponseFormat = ""
	// FormatJSON asks an OpenAI-compatible server for a JSON object.
	FormatJSON ResponseFormat = "json_object"
)

// ChatParams holds parameters for chat completion requests.
type ChatParams struct {
	// Model specifies the model to use. If empty, the client's default model is used.
	Model string

	// MaxTokens specifies the maximum number of tokens to generate.
	// If 0, no limit is applied.
	MaxTokens int

	// Temperature controls the randomness of the output.
	Temperature float32

	// ResponseFormat requests structured output when set.
	ResponseFormat ResponseFormat
}

// GenerateOptions configures a single prompt completion.
type GenerateOptions struct {
	// System is an optional system prompt.
	System         string
	MaxTokens      int
	Temperature    float32
	ResponseFormat ResponseFormat
}

// Embedding is a single embedding vector together with the model that produced it.
type Embedding struct {
	Vector []float32
	Model  string
}

// Generator produces text from a prompt. Every caller must have a fallback
// value for when Generate fails.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Embedder turns text into vectors. Callers treat failures as non-fatal.
type Embedder interface {
	// Embed embeds a single text.
	Embed(ctx context.Context, text string) (Embedding, error)
	// EmbedTexts embeds a batch of texts, one vector per input in order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// ModelName returns the embedding model identifier recorded on chunks.
	ModelName() string
}
