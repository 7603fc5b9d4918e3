package canopysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Canopy HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Assessment is the API assessment model (partial).
type Assessment struct {
	ID                   string  `json:"id"`
	JobID                string  `json:"job_id"`
	CompositeScore       float64 `json:"composite_score"`
	Level                string  `json:"level"`
	Confidence           float64 `json:"confidence"`
	ProceedAuthorization bool    `json:"proceed_authorization"`
	Degraded             bool    `json:"degraded,omitempty"`
	CreatedAt            string  `json:"created_at"`
}

// Job is the API job model.
type Job struct {
	ID        string `json:"id"`
	Location  string `json:"location,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// TickResult is what one accepted check-in yields.
type TickResult struct {
	JobID           string  `json:"job_id"`
	ContinueWork    bool    `json:"continue_work"`
	ComplianceScore float64 `json:"compliance_score"`
	CrewScore       float64 `json:"crew_score"`
	AdjustedScore   float64 `json:"adjusted_score"`
	AdjustedLevel   string  `json:"adjusted_level"`
}

// Alert is one raised alert.
type Alert struct {
	ID             string `json:"id"`
	JobID          string `json:"job_id"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	ActionRequired bool   `json:"action_required"`
	CreatedAt      string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateAssessment scores a site. The body follows the API's
// CreateAssessmentRequest shape.
func (c *Client) CreateAssessment(ctx context.Context, body map[string]any) (Assessment, error) {
	var resp Assessment
	err := c.do(ctx, http.MethodPost, "v0/assessments", body, &resp)
	return resp, err
}

// StartJob begins monitored work on an assessed job.
func (c *Client) StartJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, c.jobPath(jobID, "start"), nil, &resp)
	return resp, err
}

// CompleteJob finishes an active job.
func (c *Client) CompleteJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, c.jobPath(jobID, "complete"), nil, &resp)
	return resp, err
}

// CancelJob cancels a pending or active job.
func (c *Client) CancelJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, c.jobPath(jobID, "cancel"), nil, &resp)
	return resp, err
}

// SubmitSnapshot posts a compliance check-in and returns the tick
// result, including the continue/stop decision.
func (c *Client) SubmitSnapshot(ctx context.Context, jobID string, body map[string]any) (TickResult, error) {
	var resp TickResult
	err := c.do(ctx, http.MethodPost, c.jobPath(jobID, "snapshots"), body, &resp)
	return resp, err
}

// Alerts lists alerts, optionally filtered by job.
func (c *Client) Alerts(ctx context.Context, jobID string, limit int) ([]Alert, error) {
	endpoint := "v0/alerts"
	params := url.Values{}
	if jobID != "" {
		params.Set("job_id", jobID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Alert
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) jobPath(jobID, p string) string {
	return fmt.Sprintf("v0/jobs/%s/%s", url.PathEscape(jobID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
