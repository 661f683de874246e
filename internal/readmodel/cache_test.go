package readmodel

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := NewCache(filepath.Join(t.TempDir(), "genwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestCache_SurveySummaryRoundTrip(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.PutSurveySummary(ctx, "s1", json.RawMessage(`{"responseCount":12}`)))

	got, ok, err := cache.GetSurveySummary(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"responseCount":12}`, string(got))

	// Upsert replaces.
	require.NoError(t, cache.PutSurveySummary(ctx, "s1", json.RawMessage(`{"responseCount":22}`)))
	got, ok, err = cache.GetSurveySummary(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"responseCount":22}`, string(got))
}

func TestCache_ResponsePages(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.PutResponsePage(ctx, "s1", 1, json.RawMessage(`{"items":["a"]}`)))
	require.NoError(t, cache.PutResponsePage(ctx, "s1", 2, json.RawMessage(`{"items":["b"]}`)))

	got, ok, err := cache.GetResponsePage(ctx, "s1", 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"items":["b"]}`, string(got))

	_, ok, err = cache.GetResponsePage(ctx, "s1", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_InvalidateSurvey(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.PutSurveySummary(ctx, "s1", json.RawMessage(`{}`)))
	require.NoError(t, cache.PutAnalyticsAggregate(ctx, "s1", json.RawMessage(`{}`)))
	require.NoError(t, cache.PutResponsePage(ctx, "s1", 1, json.RawMessage(`{}`)))
	require.NoError(t, cache.PutTenantSurveyList(ctx, "t1", json.RawMessage(`[]`)))

	// An unrelated survey's rows survive.
	require.NoError(t, cache.PutSurveySummary(ctx, "s2", json.RawMessage(`{}`)))

	require.NoError(t, cache.InvalidateSurvey(ctx, "s1"))

	_, ok, err := cache.GetSurveySummary(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = cache.GetAnalyticsAggregate(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = cache.GetResponsePage(ctx, "s1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = cache.GetTenantSurveyList(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = cache.GetSurveySummary(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_InvalidateSurveyIsIdempotent(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.PutSurveySummary(ctx, "s1", json.RawMessage(`{}`)))
	require.NoError(t, cache.InvalidateSurvey(ctx, "s1"))
	require.NoError(t, cache.InvalidateSurvey(ctx, "s1"))
}

func TestCache_ReopenKeepsSchema(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "genwatch.db")

	cache, err := NewCache(path)
	require.NoError(t, err)
	require.NoError(t, cache.PutSurveySummary(context.Background(), "s1", json.RawMessage(`{"v":1}`)))
	require.NoError(t, cache.Close())

	reopened, err := NewCache(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, ok, err := reopened.GetSurveySummary(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(got))
}
