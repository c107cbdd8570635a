package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/obralens/obralens-backend/internal/logger"
	pkgerrors "github.com/obralens/obralens-backend/internal/pkg/errors"
	"github.com/obralens/obralens-backend/internal/utils"
)

// ImageInput is the normalized multimodal image input used by AIClient.
type ImageInput struct {
	// Can be https://... or data:image/...;base64,...
	ImageURL string
	// Optional. Some models may ignore; kept for compatibility.
	Detail string // "low" | "high"
}

// AIClient accepts an ordered list of {image, text} parts plus an output
// schema and returns structured data or fails. Every call is a single
// blocking request: a non-2xx response, a timeout, or output that does not
// parse against the schema is total failure. No retries, no fallback model.
type AIClient interface {
	GenerateJSONWithImages(ctx context.Context, system string, user string, images []ImageInput, schemaName string, schema map[string]any) (map[string]any, error)
}

type aiClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewAIClient builds the client once at process start; the credential is
// resolved here and never lazily.
func NewAIClient(log *logger.Logger) (AIClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(utils.GetEnv("OPENAI_API_KEY", "", nil))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com", log), "/")
	model := utils.GetEnv("OPENAI_MODEL", "gpt-5.2", log)
	timeoutSec := utils.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 120, log)

	return &aiClient{
		log:        log.With("service", "AIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

type responsesRequest struct {
	Model string `json:"model"`

	Input []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"input"`

	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

func (c *aiClient) doOnce(ctx context.Context, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &pkgerrors.AIServiceError{Err: err}
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &pkgerrors.AIServiceError{Err: readErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &pkgerrors.AIServiceError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return &pkgerrors.AIServiceError{Message: fmt.Sprintf("decode response: %v", uErr)}
	}
	return nil
}

func (c *aiClient) GenerateJSONWithImages(ctx context.Context, system string, user string, images []ImageInput, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, fmt.Errorf("schemaName required")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema required")
	}

	content := make([]map[string]any, 0, 1+len(images))
	content = append(content, map[string]any{
		"type": "input_text",
		"text": user,
	})
	for _, img := range images {
		u := strings.TrimSpace(img.ImageURL)
		if u == "" {
			continue
		}
		item := map[string]any{
			"type":      "input_image",
			"image_url": u,
		}
		if strings.TrimSpace(img.Detail) != "" {
			item["detail"] = strings.TrimSpace(img.Detail)
		}
		content = append(content, item)
	}

	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		}{
			{Role: "system", Content: system},
			{Role: "user", Content: content},
		},
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	var resp responsesResponse
	if err := c.doOnce(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Refusal != "" {
		return nil, &pkgerrors.AIServiceError{Message: "model refused: " + resp.Refusal}
	}

	jsonText := extractOutputText(resp)
	if strings.TrimSpace(jsonText) == "" {
		return nil, &pkgerrors.AIServiceError{Message: "no output_text found in response"}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return nil, &pkgerrors.AIServiceError{Message: fmt.Sprintf("failed to parse model JSON: %v; text=%s", err, jsonText)}
	}
	return obj, nil
}
