package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ModelChecker asks an OpenAI-compatible server which models it serves.
// The health endpoint uses it to report generation and embedding readiness.
type ModelChecker struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewModelChecker creates a checker for the server at baseURL.
func NewModelChecker(baseURL, apiKey string) *ModelChecker {
	return &ModelChecker{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  http.DefaultClient,
	}
}

// ModelInfo is one entry of the /v1/models listing.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelsResponse represents the response from the /v1/models endpoint.
type ModelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// HasModel reports whether modelName appears in the server's model listing.
func (mc *ModelChecker) HasModel(ctx context.Context, modelName string) (bool, error) {
	url := fmt.Sprintf("%s/v1/models", mc.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create models request: %w", err)
	}
	if mc.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", mc.apiKey))
	}

	resp, err := mc.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to list models: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var modelsResp ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return false, fmt.Errorf("failed to decode models response: %w", err)
	}

	for _, model := range modelsResp.Data {
		if model.ID == modelName {
			return true, nil
		}
	}
	return false, nil
}
