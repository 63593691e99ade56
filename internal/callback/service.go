package callback

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidArgument = errors.New("callback: invalid argument")

// Callback is one scheduled return call requested during a conversation.
type Callback struct {
	ID            string    `json:"id"`
	CallSID       string    `json:"call_sid,omitempty"`
	PhoneNumber   string    `json:"phone_number"`
	PreferredTime string    `json:"preferred_time"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Repository abstracts callback persistence. The Postgres implementation
// is used in production; MemoryRepo backs tests.
type Repository interface {
	Insert(ctx context.Context, cb Callback) error
	ListPending(ctx context.Context, limit int) ([]Callback, error)
}

// Service validates and stores callback requests.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

type ScheduleRequest struct {
	CallSID       string
	PhoneNumber   string
	PreferredTime string
	Reason        string
}

// Schedule records a callback request and returns its id.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (Callback, error) {
	if req.PhoneNumber == "" || req.PreferredTime == "" {
		return Callback{}, ErrInvalidArgument
	}
	if s.repo == nil {
		return Callback{}, errors.New("callback: repository not configured")
	}
	cb := Callback{
		ID:            uuid.NewString(),
		CallSID:       req.CallSID,
		PhoneNumber:   req.PhoneNumber,
		PreferredTime: req.PreferredTime,
		Reason:        req.Reason,
		CreatedAt:     s.clock().UTC(),
	}
	if err := s.repo.Insert(ctx, cb); err != nil {
		return Callback{}, err
	}
	return cb, nil
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]Callback, error) {
	if s.repo == nil {
		return nil, errors.New("callback: repository not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListPending(ctx, limit)
}

// ToolScheduler adapts the service to the shape the bridge tool
// dispatcher expects: one call, one id back.
type ToolScheduler struct {
	Service *Service
}

func (t ToolScheduler) Schedule(ctx context.Context, callSID, phoneNumber, preferredTime, reason string) (string, error) {
	cb, err := t.Service.Schedule(ctx, ScheduleRequest{
		CallSID:       callSID,
		PhoneNumber:   phoneNumber,
		PreferredTime: preferredTime,
		Reason:        reason,
	})
	if err != nil {
		return "", err
	}
	return cb.ID, nil
}
