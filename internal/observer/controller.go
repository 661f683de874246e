package observer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/formloop/genwatch/internal/backend"
	"github.com/formloop/genwatch/internal/config"
	"github.com/formloop/genwatch/internal/genjobs"
	"github.com/formloop/genwatch/internal/realtime"
	"github.com/formloop/genwatch/pkg/log"
)

// Backend is the slice of the survey backend the controller needs.
type Backend interface {
	StartGeneration(ctx context.Context, surveyID string, count int) (*backend.StartResult, error)
	GenerationJob(ctx context.Context, surveyID string) (*genjobs.JobProjection, error)
}

// Controller drives the observation lifecycle for generation runs:
// start a run (or resume the existing one), poll on attach, layer push
// updates on top, and detach cleanly. All state flows through the
// store's merge policy; the controller never mutates projections
// directly.
type Controller struct {
	backend      Backend
	channel      realtime.Channel
	store        *genjobs.Store
	pollInterval time.Duration
	ceiling      int

	mu      sync.Mutex
	watches map[string]*watch
}

type watch struct {
	surveyID    string
	cancel      context.CancelFunc
	unsubscribe func()
	// stopped makes detach fail-safe: in-flight poll responses and
	// already-dispatched push events that land after StopObserving
	// are discarded instead of applied.
	stopped atomic.Bool
}

func NewController(b Backend, channel realtime.Channel, store *genjobs.Store, cfg config.ObserverConfig) *Controller {
	return &Controller{
		backend:      b,
		channel:      channel,
		store:        store,
		pollInterval: cfg.PollInterval,
		ceiling:      cfg.GenerationCeiling,
		watches:      make(map[string]*watch),
	}
}

// StartGenerationRequest carries the user's start action plus the
// survey's capacity figures, supplied by the caller so the controller
// stays free of survey-schema concerns.
type StartGenerationRequest struct {
	SurveyID       string `json:"surveyId"`
	RequestedCount int    `json:"requestedCount"`
	MaxResponses   int    `json:"maxResponses"`
	ResponseCount  int    `json:"responseCount"`
}

// StartOutcome reports how a start request was settled. Resumed means
// the backend already had a run for the survey and Job carries that
// run's current counts, not a reset to zero.
type StartOutcome struct {
	Job     genjobs.JobProjection `json:"job"`
	Resumed bool                  `json:"resumed"`
	Message string                `json:"message,omitempty"`
}

// StartGeneration validates the request, asks the backend to start a
// run, and attaches the observer to whichever job the backend reports,
// new or already in progress.
func (c *Controller) StartGeneration(ctx context.Context, req StartGenerationRequest) (*StartOutcome, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	result, err := c.backend.StartGeneration(ctx, req.SurveyID, req.RequestedCount)
	if err != nil {
		// Rejected or unreachable: no projection, no observation.
		return nil, err
	}

	c.store.Track(req.SurveyID)
	c.store.Apply(ctx, result.Job)
	c.attach(req.SurveyID)

	if result.Resumed {
		log.Info("Survey %s already has generation run %s in progress (%d/%d), attaching",
			req.SurveyID, result.Job.ID, result.Job.GeneratedCount, result.Job.TotalCount)
	} else {
		log.Info("Started generation run %s for survey %s (%d responses)",
			result.Job.ID, req.SurveyID, req.RequestedCount)
	}

	return &StartOutcome{
		Job:     result.Job,
		Resumed: result.Resumed,
		Message: result.Message,
	}, nil
}

func (c *Controller) validate(req StartGenerationRequest) error {
	if req.SurveyID == "" {
		return &ValidationError{Field: "surveyId", Message: "must not be empty"}
	}
	if req.RequestedCount <= 0 {
		return &ValidationError{Field: "requestedCount", Message: "must be positive"}
	}

	remaining := c.ceiling
	if req.MaxResponses > 0 {
		remaining = req.MaxResponses - req.ResponseCount
		if remaining < 0 {
			remaining = 0
		}
	}
	if req.RequestedCount > remaining {
		return &ValidationError{
			Field:   "requestedCount",
			Message: "exceeds remaining response capacity",
		}
	}
	return nil
}

// Observe attaches the observer to a survey without starting a run,
// used when resuming observation after a restart. The current status
// is polled immediately, then kept fresh by push updates with the poll
// as backstop. Observing an already-watched survey is a no-op.
func (c *Controller) Observe(surveyID string) {
	c.store.Track(surveyID)
	c.attach(surveyID)
}

func (c *Controller) attach(surveyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watches[surveyID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{surveyID: surveyID, cancel: cancel}

	w.unsubscribe = c.channel.Subscribe(backend.EventAIJobUpdate, func(e realtime.Event) {
		c.handlePush(w, e)
	})
	c.watches[surveyID] = w

	go c.pollLoop(ctx, w)
}

// StopObserving detaches listeners and clears the local projection.
// This is local only: the backend run keeps going regardless.
func (c *Controller) StopObserving(surveyID string) {
	c.mu.Lock()
	w, ok := c.watches[surveyID]
	if ok {
		delete(c.watches, surveyID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	w.stopped.Store(true)
	w.cancel()
	w.unsubscribe()
	c.store.Forget(surveyID)
}

// Close detaches every active watch.
func (c *Controller) Close() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.watches))
	for id := range c.watches {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.StopObserving(id)
	}
}

func (c *Controller) Watching(surveyID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watches[surveyID]
	return ok
}

func (c *Controller) Projection(surveyID string) (*genjobs.JobProjection, bool) {
	return c.store.Get(surveyID)
}

func (c *Controller) Projections() []*genjobs.JobProjection {
	return c.store.List()
}

func (c *Controller) handlePush(w *watch, e realtime.Event) {
	if w.stopped.Load() {
		return
	}

	var update genjobs.JobProjection
	if err := json.Unmarshal(e.Payload, &update); err != nil {
		log.Warn("Dropping malformed %s event: %v", backend.EventAIJobUpdate, err)
		return
	}
	if update.SurveyID != w.surveyID {
		return
	}
	c.store.Apply(context.Background(), update)
}

func (c *Controller) pollLoop(ctx context.Context, w *watch) {
	if done := c.pollOnce(ctx, w); done {
		return
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := c.pollOnce(ctx, w); done {
				return
			}
		}
	}
}

// pollOnce fetches the survey's current run and merges it. It reports
// true when polling should stop: the watch was detached or the run
// reached a terminal status (push stays subscribed, but there is no
// more progress to poll for).
func (c *Controller) pollOnce(ctx context.Context, w *watch) bool {
	job, err := c.backend.GenerationJob(ctx, w.surveyID)
	if w.stopped.Load() {
		// Detached while the request was in flight; the response is
		// stale by definition and must not touch the store.
		return true
	}
	if err != nil {
		// Transport failure, not job state. Leave the projection
		// alone and let the next tick retry.
		log.Warn("Poll failed for survey %s: %v", w.surveyID, err)
		return false
	}
	if job == nil {
		return false
	}

	c.store.Apply(ctx, *job)

	if p, ok := c.store.Get(w.surveyID); ok && p.Status.Terminal() {
		return true
	}
	return false
}
