package reporting

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"voicebridge/internal/telephony"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallSource supplies the call records the aggregation runs over.
// The Twilio provider satisfies this directly.
type CallSource interface {
	ListCalls(ctx context.Context, status string, limit int) ([]telephony.CallRecord, error)
}

type Service struct {
	source CallSource
}

func NewService(source CallSource) *Service { return &Service{source: source} }

// Stats aggregates recent call records into a single summary.
func (s *Service) Stats(ctx context.Context, req StatsRequest) (CallStats, error) {
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return CallStats{}, ErrInvalidRequest
	}
	if s.source == nil {
		return CallStats{}, errors.New("reporting: call source not configured")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.source.ListCalls(ctx, "", limit)
	if err != nil {
		return CallStats{}, err
	}

	var out CallStats
	for _, c := range rows {
		if !inRange(c, req.Range) {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds

		if strings.HasPrefix(c.Direction, "outbound") {
			out.OutboundCalls++
		} else {
			out.InboundCalls++
		}

		switch c.Status {
		case "completed":
			out.CompletedCalls++
		case "failed", "canceled":
			out.FailedCalls++
		case "no-answer":
			out.NoAnswerCalls++
		case "busy":
			out.BusyCalls++
		case "in-progress", "ringing", "queued":
			out.ActiveCalls++
		}

		if c.Price != "" {
			if amount, err := strconv.ParseFloat(c.Price, 64); err == nil {
				if amount < 0 {
					amount = -amount
				}
				out.TotalCost += amount
				if out.Currency == "" {
					out.Currency = c.Currency
				}
			}
		}
	}

	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.SuccessRate = float64(out.CompletedCalls) / float64(out.TotalCalls)
	}
	return out, nil
}

func inRange(c telephony.CallRecord, r TimeRange) bool {
	if r.From.IsZero() && r.To.IsZero() {
		return true
	}
	if c.StartedAt == nil {
		// Calls still queuing have no start time yet; include them.
		return true
	}
	t := *c.StartedAt
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}
