package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formloop/genwatch/internal/genjobs"
)

func TestClient_StartGeneration_NewJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/surveys/s1/generate", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body struct {
			Count          int    `json:"count"`
			IdempotencyKey string `json:"idempotencyKey"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 10, body.Count)
		assert.NotEmpty(t, body.IdempotencyKey)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job":{"id":"j1","surveyId":"s1","status":"pending","totalCount":10,"generatedCount":0}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret")
	result, err := client.StartGeneration(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.False(t, result.Resumed)
	assert.Equal(t, "j1", result.Job.ID)
	assert.Equal(t, genjobs.StatusPending, result.Job.Status)
	assert.Equal(t, 10, result.Job.TotalCount)
}

func TestClient_StartGeneration_ResumedFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job":{"id":"j1","surveyId":"s1","status":"running","totalCount":20,"generatedCount":4},"resumed":true}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	result, err := client.StartGeneration(context.Background(), "s1", 5)
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, 4, result.Job.GeneratedCount)
	assert.Equal(t, 20, result.Job.TotalCount)
}

func TestClient_StartGeneration_ResumedLegacyMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job":{"id":"j1","surveyId":"s1","status":"running","totalCount":20,"generatedCount":4},"message":"Generation already in progress for this survey"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	result, err := client.StartGeneration(context.Background(), "s1", 5)
	require.NoError(t, err)
	assert.True(t, result.Resumed)
}

func TestClient_StartGeneration_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"AI generation is not enabled for this plan"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.StartGeneration(context.Background(), "s1", 10)

	var rejected *StartRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusForbidden, rejected.StatusCode)
	assert.Equal(t, "AI generation is not enabled for this plan", rejected.Reason)
}

func TestClient_StartGeneration_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.StartGeneration(context.Background(), "s1", 10)

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	var rejected *StartRejectedError
	assert.False(t, errors.As(err, &rejected))
}

func TestClient_GenerationJob_ReturnsProjection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/surveys/s1/generation-job", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"j1","surveyId":"s1","status":"running","totalCount":10,"generatedCount":3}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	job, err := client.GenerationJob(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, genjobs.StatusRunning, job.Status)
	assert.Equal(t, 3, job.GeneratedCount)
}

func TestClient_GenerationJob_NoJob(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "null body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`null`))
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewClient(srv.URL, "")
			job, err := client.GenerationJob(context.Background(), "s1")
			require.NoError(t, err)
			assert.Nil(t, job)
		})
	}
}
