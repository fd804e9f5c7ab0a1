package analyze

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"wallpipe/internal/domain"
)

// HTTPModelClient talks to an image-inference service over HTTP. The
// service exposes /v1/classify and /v1/caption accepting base64 payloads.
type HTTPModelClient struct {
	endpoint        string
	classifierModel string
	captionModel    string
	client          *http.Client
}

// NewHTTPModelClient probes the endpoint once; an unreachable service
// yields domain.ErrModelUnavailable so the analyzer downgrades instead of
// failing.
func NewHTTPModelClient(endpoint, classifierModel, captionModel string) (*HTTPModelClient, error) {
	if endpoint == "" {
		return nil, domain.ErrModelUnavailable
	}
	c := &HTTPModelClient{
		endpoint:        endpoint,
		classifierModel: classifierModel,
		captionModel:    captionModel,
		client:          &http.Client{Timeout: 120 * time.Second},
	}
	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint+"/healthz", nil)
	if err != nil {
		return nil, domain.ErrModelUnavailable
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: probe status %d", domain.ErrModelUnavailable, resp.StatusCode)
	}
	return c, nil
}

type inferenceRequest struct {
	Model string `json:"model,omitempty"`
	Image string `json:"image"`
	TopK  int    `json:"top_k,omitempty"`
}

type classifyResponse struct {
	Labels []string `json:"labels"`
}

type captionResponse struct {
	Caption string `json:"caption"`
}

func (c *HTTPModelClient) Classify(ctx context.Context, imagePath string, topK int) ([]string, error) {
	var out classifyResponse
	err := c.post(ctx, "/v1/classify", inferenceRequest{
		Model: c.classifierModel,
		Image: encodeImage(imagePath),
		TopK:  topK,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Labels, nil
}

func (c *HTTPModelClient) Caption(ctx context.Context, imagePath string) (string, error) {
	var out captionResponse
	err := c.post(ctx, "/v1/caption", inferenceRequest{
		Model: c.captionModel,
		Image: encodeImage(imagePath),
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Caption, nil
}

func (c *HTTPModelClient) post(ctx context.Context, route string, payload inferenceRequest, out any) error {
	if payload.Image == "" {
		return fmt.Errorf("inference %s: could not read image", route)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+route, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference %s: %w", route, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference %s: status %d", route, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func encodeImage(path string) string {
	buf, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf)
}
