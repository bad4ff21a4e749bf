package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	evaluatePath        = "/api/evaluate"
	storeEvaluationPath = "/api/evaluation/store"
	validateEmailPath   = "/api/auth/validate-email"
	healthPath          = "/health"

	maxErrorBody = 2048
)

type Config struct {
	LightURL    string
	HeavyURL    string
	DatabaseURL string
	Timeout     time.Duration
}

// Client talks to the light, heavy and database servers.
type Client struct {
	baseURLs   map[Service]string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURLs: map[Service]string{
			Light:    strings.TrimRight(cfg.LightURL, "/"),
			Heavy:    strings.TrimRight(cfg.HeavyURL, "/"),
			Database: strings.TrimRight(cfg.DatabaseURL, "/"),
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Evaluate runs a retrieval query across the user's collections.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	var resp EvaluateResponse
	if err := c.postJSON(ctx, Database, evaluatePath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) StoreEvaluation(ctx context.Context, rec EvaluationRecord) (*StoreEvaluationResponse, error) {
	var resp StoreEvaluationResponse
	if err := c.postJSON(ctx, Database, storeEvaluationPath, rec, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidateEmail asks the light server whether email is whitelisted.
func (c *Client) ValidateEmail(ctx context.Context, email string) (bool, error) {
	var resp struct {
		IsValid bool `json:"isValid"`
	}
	body := map[string]string{"email": strings.ToLower(email)}
	if err := c.postJSON(ctx, Light, validateEmailPath, body, &resp); err != nil {
		return false, err
	}
	return resp.IsValid, nil
}

func (c *Client) Health(ctx context.Context, svc Service) (map[string]any, error) {
	resp, err := c.Forward(ctx, svc, http.MethodGet, healthPath, nil, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(svc, resp); err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s health response: %w", svc, err)
	}
	return out, nil
}

// CheckAllHealth probes every service concurrently and reports each outcome; one
// failing service never hides the others.
func (c *Client) CheckAllHealth(ctx context.Context) map[Service]HealthResult {
	services := []Service{Light, Heavy, Database}
	results := make([]HealthResult, len(services))

	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc Service) {
			defer wg.Done()
			body, err := c.Health(ctx, svc)
			if err != nil {
				results[i] = HealthResult{Error: err.Error()}
				return
			}
			results[i] = HealthResult{Body: body}
		}(i, svc)
	}
	wg.Wait()

	out := make(map[Service]HealthResult, len(services))
	for i, svc := range services {
		out[svc] = results[i]
	}
	return out
}

// Forward issues a raw request to a backend service. The caller owns the response body.
func (c *Client) Forward(ctx context.Context, svc Service, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	base, ok := c.baseURLs[svc]
	if !ok || base == "" {
		return nil, fmt.Errorf("no base URL configured for %s server", svc)
	}
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", svc, err)
	}
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s server: %w", svc, err)
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, svc Service, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", svc, err)
	}

	resp, err := c.Forward(ctx, svc, http.MethodPost, path, nil, bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(svc, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", svc, err)
	}
	return nil
}

func checkStatus(svc Service, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Service: svc, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
