package auth

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"google.golang.org/genai"

	"github.com/fpang/prism/internal/metrics"
)

func TestGetAPIKeyFromEnv(t *testing.T) {
	const testKey = "test-api-key-12345"
	t.Setenv(APIKeyEnv, testKey)

	key, err := GetAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != testKey {
		t.Errorf("expected key %q, got %q", testKey, key)
	}
}

func TestGetAPIKeyNoSource(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	t.Setenv("HOME", t.TempDir())

	_, err := GetAPIKey()
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
	if _, err := NewClient(context.Background()); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("NewClient err = %v, want ErrNoAPIKey", err)
	}
}

func TestGetCredentialPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := getCredentialPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join(home, ".prism", "credentials.gpg"); path != want {
		t.Errorf("expected path %q, got %q", want, path)
	}
}

type stubGenerator struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (s stubGenerator) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return s.resp, s.err
}

func TestValidate(t *testing.T) {
	var out bytes.Buffer
	prev := metrics.SetOutput(&out)
	defer metrics.SetOutput(prev)

	ok := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}
	tests := []struct {
		name     string
		gen      stubGenerator
		wantType ValidationErrorType
		wantErr  bool
	}{
		{"valid", stubGenerator{resp: ok}, 0, false},
		{"empty", stubGenerator{resp: &genai.GenerateContentResponse{}}, ErrTypeUnknown, true},
		{"invalid key", stubGenerator{err: errors.New("API key not valid. Please pass a valid API key.")}, ErrTypeInvalidKey, true},
		{"quota", stubGenerator{err: errors.New("RESOURCE EXHAUSTED: quota")}, ErrTypeQuotaExceeded, true},
		{"network", stubGenerator{err: errors.New("dial tcp: no such host")}, ErrTypeNetworkError, true},
		{"api 429", stubGenerator{err: &genai.APIError{Code: 429, Message: "slow down"}}, ErrTypeQuotaExceeded, true},
		{"api 418", stubGenerator{err: &genai.APIError{Code: 418, Message: "teapot"}}, ErrTypeUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(context.Background(), tt.gen, "gemini-2.5-flash")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("err = %T, want *ValidationError", err)
			}
			if valErr.Type != tt.wantType {
				t.Errorf("type = %v, want %v", valErr.Type, tt.wantType)
			}
		})
	}
	if out.Len() == 0 {
		t.Error("expected validation metrics")
	}
}
