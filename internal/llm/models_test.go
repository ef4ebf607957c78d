package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestModelChecker_HasModel(t *testing.T) {
	tests := []struct {
		name       string
		model      string
		serverResp func(w http.ResponseWriter, r *http.Request)
		want       bool
		wantErr    bool
	}{
		{
			name:  "model listed",
			model: "qwen",
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/models" {
					t.Errorf("expected /v1/models, got %s", r.URL.Path)
				}
				_ = json.NewEncoder(w).Encode(ModelsResponse{Data: []ModelInfo{{ID: "embed"}, {ID: "qwen"}}})
			},
			want: true,
		},
		{
			name:  "model missing",
			model: "llama",
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(ModelsResponse{Data: []ModelInfo{{ID: "qwen"}}})
			},
			want: false,
		},
		{
			name:  "server error",
			model: "qwen",
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResp))
			defer server.Close()

			got, err := NewModelChecker(server.URL, "key").HasModel(context.Background(), tt.model)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HasModel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("HasModel() = %v, want %v", got, tt.want)
			}
		})
	}
}
