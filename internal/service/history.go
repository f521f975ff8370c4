package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nutrient_mixer/internal/models"
	"nutrient_mixer/internal/repository"
)

// HistoryFilter narrows a history query; zero values are open.
type HistoryFilter struct {
	From time.Time
	To   time.Time
	Type string
}

var (
	ErrInvalidTimeRange = errors.New("invalid time range: from must be <= to")
	ErrInvalidJobType   = errors.New("invalid job type")
)

type HistoryService struct {
	jobs repository.JobRepo
}

func NewHistoryService(jobs repository.JobRepo) *HistoryService {
	return &HistoryService{jobs: jobs}
}

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func normalizeFilter(f HistoryFilter) (HistoryFilter, error) {
	out := HistoryFilter{
		From: normalizeToUTC(f.From),
		To:   normalizeToUTC(f.To),
		Type: strings.ToLower(strings.TrimSpace(f.Type)),
	}
	if !out.From.IsZero() && !out.To.IsZero() && out.From.After(out.To) {
		return HistoryFilter{}, ErrInvalidTimeRange
	}
	if out.Type != "" && !models.JobType(out.Type).Valid() {
		return HistoryFilter{}, fmt.Errorf("%w: %q", ErrInvalidJobType, f.Type)
	}
	return out, nil
}

func (s *HistoryService) List(ctx context.Context, f HistoryFilter) ([]models.JobRecord, error) {
	f, err := normalizeFilter(f)
	if err != nil {
		return nil, err
	}
	return s.jobs.List(ctx, f.From, f.To, f.Type)
}
