// Package feedback holds analyst corrections and the whitelist of sources
// exempt from detection.
package feedback

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/logsentinel/sentinel/internal/models"
	"github.com/logsentinel/sentinel/internal/utils"
)

// Repository persists feedback and whitelist entries.
type Repository interface {
	SaveFeedback(ctx context.Context, fb models.Feedback) error
	ListFeedback(ctx context.Context) ([]models.Feedback, error)
	UpsertWhitelist(ctx context.Context, entry models.WhitelistEntry) error
	DeleteWhitelist(ctx context.Context, sourceID string) error
	ListWhitelist(ctx context.Context) ([]models.WhitelistEntry, error)
}

// Submission is an analyst correction before it is accepted.
type Submission struct {
	CaseID         string
	SourceID       string
	ActualLabel    models.Label
	PredictedLabel models.Label
	Kind           models.FeedbackKind
	Notes          string
	AddToWhitelist bool
}

// Store keeps the whitelist in memory for O(1) lookups on the hot path and
// mirrors every write to the repository when one is configured. The
// in-memory state stays authoritative when a repository write fails.
type Store struct {
	mu        sync.RWMutex
	whitelist map[string]models.WhitelistEntry
	records   []models.Feedback

	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewStore constructs a Store; repo may be nil for an ephemeral store.
func NewStore(repo Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		whitelist: make(map[string]models.WhitelistEntry),
		repo:      repo,
		logger:    logger,
		now:       time.Now,
	}
}

// Restore loads persisted state, replacing what is in memory.
func (s *Store) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	entries, err := s.repo.ListWhitelist(ctx)
	if err != nil {
		return utils.NewAppError("feedback.Restore", "load whitelist", err)
	}
	records, err := s.repo.ListFeedback(ctx)
	if err != nil {
		return utils.NewAppError("feedback.Restore", "load feedback", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelist = make(map[string]models.WhitelistEntry, len(entries))
	for _, e := range entries {
		s.whitelist[e.SourceID] = e
	}
	s.records = records
	s.logger.Info("feedback store restored",
		slog.Int("whitelist", len(entries)),
		slog.Int("feedback", len(records)))
	return nil
}

// IsWhitelisted reports whether source is exempt from detection.
func (s *Store) IsWhitelisted(source string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.whitelist[source]
	return ok
}

// AddToWhitelist exempts source from detection. Adding an existing source
// refreshes its reason.
func (s *Store) AddToWhitelist(ctx context.Context, source, reason string) (models.WhitelistEntry, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return models.WhitelistEntry{}, utils.MissingField("ip")
	}
	entry := models.WhitelistEntry{SourceID: source, Reason: reason, AddedAt: s.now().UTC()}

	s.mu.Lock()
	s.whitelist[source] = entry
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.UpsertWhitelist(ctx, entry); err != nil {
			s.logger.Warn("whitelist persistence failed", slog.String("source", source), slog.Any("error", err))
		}
	}
	s.logger.Info("source whitelisted", slog.String("source", source))
	return entry, nil
}

// RemoveFromWhitelist reports whether source was present.
func (s *Store) RemoveFromWhitelist(ctx context.Context, source string) (bool, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return false, utils.MissingField("ip")
	}

	s.mu.Lock()
	_, ok := s.whitelist[source]
	delete(s.whitelist, source)
	s.mu.Unlock()

	if ok && s.repo != nil {
		if err := s.repo.DeleteWhitelist(ctx, source); err != nil {
			s.logger.Warn("whitelist persistence failed", slog.String("source", source), slog.Any("error", err))
		}
	}
	return ok, nil
}

// Whitelist lists entries ordered by source.
func (s *Store) Whitelist() []models.WhitelistEntry {
	s.mu.RLock()
	out := make([]models.WhitelistEntry, 0, len(s.whitelist))
	for _, e := range s.whitelist {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// RecordFeedback validates and stores a correction, optionally whitelisting
// its source. It never retrains a scorer.
func (s *Store) RecordFeedback(ctx context.Context, sub Submission) (models.Feedback, error) {
	if err := validate(&sub); err != nil {
		return models.Feedback{}, err
	}

	fb := models.Feedback{
		ID:             uuid.NewString(),
		CaseID:         sub.CaseID,
		SourceID:       sub.SourceID,
		ActualLabel:    sub.ActualLabel,
		PredictedLabel: sub.PredictedLabel,
		Kind:           sub.Kind,
		Notes:          sub.Notes,
		AddToWhitelist: sub.AddToWhitelist,
		SubmittedAt:    s.now().UTC(),
	}

	s.mu.Lock()
	s.records = append(s.records, fb)
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveFeedback(ctx, fb); err != nil {
			s.logger.Warn("feedback persistence failed", slog.String("id", fb.ID), slog.Any("error", err))
		}
	}
	if sub.AddToWhitelist {
		if _, err := s.AddToWhitelist(ctx, sub.SourceID, "feedback "+fb.ID); err != nil {
			return fb, err
		}
	}

	s.logger.Info("feedback recorded",
		slog.String("id", fb.ID),
		slog.String("case_id", fb.CaseID),
		slog.String("kind", string(fb.Kind)))
	return fb, nil
}

func validate(sub *Submission) error {
	sub.CaseID = strings.TrimSpace(sub.CaseID)
	sub.SourceID = strings.TrimSpace(sub.SourceID)
	if sub.CaseID == "" {
		return utils.MissingField("case_id")
	}
	if !sub.ActualLabel.Valid() {
		return utils.NewValidationError("actual_label", "must be normal or anomaly")
	}
	if !sub.PredictedLabel.Valid() {
		return utils.NewValidationError("predicted_label", "must be normal or anomaly")
	}
	if sub.Kind == "" {
		sub.Kind = models.InferFeedbackKind(sub.PredictedLabel, sub.ActualLabel)
	} else if !sub.Kind.Valid() {
		return utils.NewValidationError("feedback_type", "must be false_positive, false_negative or confirmed")
	}
	if sub.AddToWhitelist && sub.SourceID == "" {
		return utils.NewValidationError("ip_address", "required when add_to_whitelist is set")
	}
	return nil
}

// Stats summarises the recorded feedback.
func (s *Store) Stats() models.FeedbackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.records, len(s.whitelist))
}
