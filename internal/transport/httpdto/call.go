package httpdto

import (
	"time"

	"sentinal-call/internal/domain/call"

	"github.com/google/uuid"
)

// CreateCallRequest is used for POST /calls
type CreateCallRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
	Type       string `json:"type" binding:"required"` // "audio" or "video"
}

// EndCallRequest is used for POST /calls/:id/end
type EndCallRequest struct {
	DurationSeconds *int `json:"duration_seconds,omitempty"`
}

// ListCallsRequest holds query parameters for listing calls
type ListCallsRequest struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

// ListCallsResponse is returned when listing calls
type ListCallsResponse struct {
	Calls []CallDTO `json:"calls"`
	Total int64     `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

// BusyDTO is the data of a 409 BUSY response
type BusyDTO struct {
	Party  string `json:"party"`
	UserID string `json:"user_id"`
}

// BusyStatusResponse is returned by GET /calls/busy/:user_id
type BusyStatusResponse struct {
	UserID string `json:"user_id"`
	Busy   bool   `json:"busy"`
}

// ListSignalsResponse is returned by GET /calls/:id/signals
type ListSignalsResponse struct {
	Signals []call.RelayedSignal `json:"signals"`
	// Next is the cursor for the following poll.
	Next uint64 `json:"next"`
}

// CallDTO represents a call in API responses
type CallDTO struct {
	ID              string `json:"id"`
	CallerID        string `json:"caller_id"`
	ReceiverID      string `json:"receiver_id"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	StartedAt       string `json:"started_at"`
	AnsweredAt      string `json:"answered_at,omitempty"`
	EndedAt         string `json:"ended_at,omitempty"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
}

// FromCall converts a domain call to CallDTO
func FromCall(c call.Call) CallDTO {
	dto := CallDTO{
		ID:              c.ID.String(),
		CallerID:        c.CallerID.String(),
		ReceiverID:      c.ReceiverID.String(),
		Type:            string(c.Type),
		Status:          string(c.Status),
		StartedAt:       c.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationSeconds: c.DurationSeconds,
	}
	if c.AnsweredAt != nil {
		dto.AnsweredAt = c.AnsweredAt.UTC().Format(time.RFC3339Nano)
	}
	if c.EndedAt != nil {
		dto.EndedAt = c.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	return dto
}

// FromCallSlice converts a slice of domain calls to CallDTO slice
func FromCallSlice(calls []call.Call) []CallDTO {
	dtos := make([]CallDTO, len(calls))
	for i, c := range calls {
		dtos[i] = FromCall(c)
	}
	return dtos
}

// ToCall parses the DTO back into a domain call.
func (d CallDTO) ToCall() (call.Call, error) {
	var c call.Call
	var err error
	if c.ID, err = uuid.Parse(d.ID); err != nil {
		return call.Call{}, err
	}
	if c.CallerID, err = uuid.Parse(d.CallerID); err != nil {
		return call.Call{}, err
	}
	if c.ReceiverID, err = uuid.Parse(d.ReceiverID); err != nil {
		return call.Call{}, err
	}
	c.Type = call.Type(d.Type)
	c.Status = call.Status(d.Status)
	if c.StartedAt, err = time.Parse(time.RFC3339Nano, d.StartedAt); err != nil {
		return call.Call{}, err
	}
	if c.AnsweredAt, err = parseOptionalTime(d.AnsweredAt); err != nil {
		return call.Call{}, err
	}
	if c.EndedAt, err = parseOptionalTime(d.EndedAt); err != nil {
		return call.Call{}, err
	}
	c.DurationSeconds = d.DurationSeconds
	return c, nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
