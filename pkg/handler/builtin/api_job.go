package builtin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/resolve"
)

// APIJob issues an HTTP request, grounded on the teacher's HTTPExecutor.
type APIJob struct {
	client *http.Client
}

// NewAPIJob builds an APIJob handler with the teacher's 30s default client
// timeout.
func NewAPIJob() *APIJob {
	return &APIJob{client: &http.Client{Timeout: 30 * time.Second}}
}

func (h *APIJob) Execute(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	cfg := handler.Config(hctx.Node.Config)
	method, err := cfg.String("method")
	if err != nil {
		return nil, err
	}
	url, err := cfg.String("url")
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if raw, ok := cfg["body"]; ok && raw != nil {
		var bodyData []byte
		switch v := raw.(type) {
		case string:
			bodyData = []byte(v)
		case []byte:
			bodyData = v
		default:
			bodyData, err = json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("api_job %s: marshal body: %w", hctx.Node.ID, err)
			}
		}
		body = bytes.NewReader(bodyData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("api_job %s: build request: %w", hctx.Node.ID, err)
	}

	if headers, ok := cfg["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api_job %s: request failed: %w", hctx.Node.ID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api_job %s: read response: %w", hctx.Node.ID, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api_job %s: HTTP %d: %s", hctx.Node.ID, resp.StatusCode, string(respBody))
	}

	contentType := resp.Header.Get("Content-Type")
	result := map[string]any{
		"status":       resp.StatusCode,
		"headers":      resp.Header,
		"content_type": contentType,
	}

	if isBinaryContentType(contentType) {
		result["body"] = nil
		result["body_base64"] = base64.StdEncoding.EncodeToString(respBody)
		result["size"] = len(respBody)
	} else {
		var parsed any
		if len(respBody) > 0 {
			if err := json.Unmarshal(respBody, &parsed); err != nil {
				parsed = string(respBody)
			}
		}
		result["body"] = parsed
	}

	out := envelope.New(result, envelope.Object, hctx.Node.ID)
	return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: out}, nil
}

func isBinaryContentType(contentType string) bool {
	prefixes := []string{"image/", "audio/", "video/", "application/octet-stream", "application/pdf", "application/zip", "application/gzip"}
	for _, p := range prefixes {
		if len(contentType) >= len(p) && contentType[:len(p)] == p {
			return true
		}
	}
	return false
}
