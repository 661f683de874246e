package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/formloop/genwatch/internal/genjobs"
)

// EventAIJobUpdate is the push event type carrying a job projection.
const EventAIJobUpdate = "aiJobUpdate"

// resumedMessageMarker is the legacy signal that a run was already in
// progress, used when the backend predates the explicit resumed flag.
const resumedMessageMarker = "already in progress"

// Client talks to the survey backend's generation endpoints.
type Client struct {
	baseURL string
	http    *resty.Client
}

func NewClient(baseURL, token string) *Client {
	client := resty.New().
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry on 429 and transient server errors only; a 4xx is
			// an authoritative rejection.
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// StartResult is the backend's answer to a start request. Resumed is
// true when a run for the survey already existed and Job carries that
// run's current counts rather than a fresh one.
type StartResult struct {
	Job     genjobs.JobProjection
	Resumed bool
	Message string
}

type startRequestBody struct {
	Count          int    `json:"count"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type startResponseBody struct {
	Job     genjobs.JobProjection `json:"job"`
	Message string                `json:"message,omitempty"`
	Resumed bool                  `json:"resumed,omitempty"`
}

type errorResponseBody struct {
	Error string `json:"error"`
}

// StartGeneration asks the backend to begin generating count responses
// for the survey. The request carries a client-generated idempotency
// key; the backend additionally dedupes on the survey itself and
// reports an existing run through the resumed flag.
func (c *Client) StartGeneration(ctx context.Context, surveyID string, count int) (*StartResult, error) {
	var out startResponseBody
	var errBody errorResponseBody

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(startRequestBody{
			Count:          count,
			IdempotencyKey: uuid.NewString(),
		}).
		SetResult(&out).
		SetError(&errBody).
		Post(fmt.Sprintf("%s/api/surveys/%s/generate", c.baseURL, surveyID))
	if err != nil {
		return nil, &TransportError{Op: "start generation", Err: err}
	}
	if !resp.IsSuccess() {
		if resp.StatusCode() >= 500 {
			return nil, &TransportError{
				Op:  "start generation",
				Err: fmt.Errorf("backend returned status %d", resp.StatusCode()),
			}
		}
		return nil, &StartRejectedError{
			StatusCode: resp.StatusCode(),
			Reason:     errBody.Error,
		}
	}

	return &StartResult{
		Job:     out.Job,
		Resumed: out.Resumed || containsResumedMarker(out.Message),
		Message: out.Message,
	}, nil
}

// GenerationJob fetches the current run for a survey. A nil projection
// with nil error means no run exists.
func (c *Client) GenerationJob(ctx context.Context, surveyID string) (*genjobs.JobProjection, error) {
	var out *genjobs.JobProjection

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("%s/api/surveys/%s/generation-job", c.baseURL, surveyID))
	if err != nil {
		return nil, &TransportError{Op: "fetch generation job", Err: err}
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if !resp.IsSuccess() {
		return nil, &TransportError{
			Op:  "fetch generation job",
			Err: fmt.Errorf("backend returned status %d", resp.StatusCode()),
		}
	}
	if out == nil || out.ID == "" {
		return nil, nil
	}
	return out, nil
}

func containsResumedMarker(message string) bool {
	return strings.Contains(strings.ToLower(message), resumedMessageMarker)
}
