package genjobs

import (
	"context"
	"sync"

	"github.com/formloop/genwatch/pkg/log"
)

// Invalidator drops read models derived from a survey's responses. The
// store calls it once when a tracked job completes.
type Invalidator interface {
	InvalidateSurvey(ctx context.Context, surveyID string) error
}

// TerminalListener is notified once per job id when a projection enters
// a terminal status, for both completed and failed outcomes.
type TerminalListener func(job JobProjection)

// Store reconciles job updates arriving from polling and push into one
// coherent projection per tracked survey. Updates from either source
// may be duplicated, delayed, or reordered; Apply is the single
// serialization point that restores a consistent order.
type Store struct {
	mu          sync.Mutex
	projections map[string]*JobProjection
	fired       map[string]bool
	invalidator Invalidator
	onTerminal  TerminalListener
}

type Option func(*Store)

func WithTerminalListener(fn TerminalListener) Option {
	return func(s *Store) {
		s.onTerminal = fn
	}
}

func NewStore(invalidator Invalidator, opts ...Option) *Store {
	s := &Store{
		projections: make(map[string]*JobProjection),
		fired:       make(map[string]bool),
		invalidator: invalidator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track registers a survey for observation. Until the first accepted
// update its projection is absent.
func (s *Store) Track(surveyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projections[surveyID]; !ok {
		s.projections[surveyID] = nil
	}
}

// Forget clears the survey's projection and stops accepting updates for
// it. Late deliveries for a forgotten survey are dropped by Apply.
func (s *Store) Forget(surveyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.projections[surveyID]; ok && cur != nil {
		delete(s.fired, cur.ID)
	}
	delete(s.projections, surveyID)
}

func (s *Store) Tracking(surveyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.projections[surveyID]
	return ok
}

// Get returns a snapshot of the survey's projection. The second return
// is false when the survey is untracked or no update has arrived yet.
func (s *Store) Get(surveyID string) (*JobProjection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.projections[surveyID]
	if !ok || cur == nil {
		return nil, false
	}
	return cloneProjection(cur), true
}

// List returns snapshots of all current projections.
func (s *Store) List() []*JobProjection {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := make([]*JobProjection, 0, len(s.projections))
	for _, p := range s.projections {
		if p != nil {
			ret = append(ret, cloneProjection(p))
		}
	}
	return ret
}

// Apply merges one incoming update and reports whether it was accepted.
//
// Merge policy:
//   - updates for untracked surveys are dropped unconditionally
//   - a terminal projection is sticky: later updates carrying the same
//     job id never change it, terminal duplicates included
//   - a same-id update may never move the status rank backwards
//   - generatedCount may never regress while the job is running
//   - an update carrying a new job id replaces the projection; the
//     backend has started a fresh run for the survey
func (s *Store) Apply(ctx context.Context, update JobProjection) bool {
	s.mu.Lock()

	cur, tracked := s.projections[update.SurveyID]
	if !tracked {
		s.mu.Unlock()
		return false
	}

	if cur != nil && cur.ID == update.ID {
		if cur.Status.Terminal() {
			s.mu.Unlock()
			return false
		}
		if update.Status.rank() < cur.Status.rank() {
			s.mu.Unlock()
			return false
		}
		if update.Status == StatusRunning && update.GeneratedCount < cur.GeneratedCount {
			s.mu.Unlock()
			return false
		}
	}

	s.projections[update.SurveyID] = cloneProjection(&update)

	fire := update.Status.Terminal() && !s.fired[update.ID]
	if fire {
		s.fired[update.ID] = true
	}
	invalidate := fire && update.Status == StatusCompleted
	onTerminal := s.onTerminal
	s.mu.Unlock()

	if invalidate && s.invalidator != nil {
		if err := s.invalidator.InvalidateSurvey(ctx, update.SurveyID); err != nil {
			log.Error("Failed to invalidate read models for survey %s: %v", update.SurveyID, err)
		}
	}
	if fire && onTerminal != nil {
		onTerminal(update)
	}
	return true
}

func cloneProjection(p *JobProjection) *JobProjection {
	if p == nil {
		return nil
	}
	tmp := *p
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		tmp.CompletedAt = &at
	}
	return &tmp
}
