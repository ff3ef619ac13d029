package reporting

import (
	"context"
	"errors"

	"auralis/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// DefaultStatsLimit is the number of recent records aggregated when the
// request does not say.
const DefaultStatsLimit = calls.MaxListLimit

// Repository is the read side reporting needs. *calls.Records satisfies it.
type Repository interface {
	ListRecent(ctx context.Context, limit, sinceDays int) ([]calls.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallStats(ctx context.Context, req CallStatsRequest) (CallStats, error) {
	if req.SinceDays < 0 || req.Limit < 0 {
		return CallStats{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallStats{}, errors.New("reporting: repository not configured")
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultStatsLimit
	}

	rows, err := s.repo.ListRecent(ctx, limit, req.SinceDays)
	if err != nil {
		return CallStats{}, err
	}
	return Summarize(rows, req.SinceDays), nil
}

// Summarize aggregates records into CallStats.
func Summarize(rows []calls.CallRecord, sinceDays int) CallStats {
	out := CallStats{SinceDays: sinceDays, ByStatus: map[string]int{}}
	ended := 0
	for _, c := range rows {
		out.Total++
		out.ByStatus[string(c.Status)]++
		out.TotalDurationSec += c.DurationSec
		if c.Recording != nil && c.Recording.RecordingURL != "" {
			out.Recorded++
		}
		switch c.EndReason {
		case "busy":
			out.Busy++
		case "canceled":
			out.Canceled++
		}
		switch c.Status {
		case calls.StatusCompleted:
			out.Completed++
		case calls.StatusFailed:
			out.Failed++
		case calls.StatusNoAnswer:
			out.NoAnswer++
		case calls.StatusCalling, calls.StatusRinging, calls.StatusInProgress:
			out.InProgress++
		case calls.StatusInitiating, calls.StatusQueued:
			// pending, only in ByStatus
		}
		if c.Status.Terminal() {
			ended++
		}
	}
	if out.Total > 0 {
		out.AverageDurationSec = out.TotalDurationSec / out.Total
	}
	if ended > 0 {
		out.SuccessRate = float64(out.Completed) / float64(ended)
	}
	return out
}
