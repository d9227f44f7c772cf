package http

import (
	"fmt"
	"time"

	"github.com/aretw0/sessionsync/pkg/domain"
)

// SessionInput is one session of a refresh request.
type SessionInput struct {
	ID   string `json:"id"`
	User string `json:"user,omitempty"`
}

func (in SessionInput) toRecord() (domain.Record, error) {
	id, err := domain.ParseLogicalSessionID(in.ID)
	if err != nil {
		return domain.Record{}, err
	}
	rec := domain.Record{ID: id}
	if in.User != "" {
		rec.User = &domain.Principal{Name: in.User}
		if id.HasOwner() && id.UID != rec.User.Digest() {
			return domain.Record{}, fmt.Errorf("session %s is not owned by %q", in.ID, in.User)
		}
	}
	return rec, nil
}

// RefreshRequest is the body of POST /v1/refresh.
type RefreshRequest struct {
	Sessions    []SessionInput `json:"sessions"`
	RefreshTime *time.Time     `json:"refresh_time,omitempty"`
}

// RemoveRequest is the body of POST /v1/remove.
type RemoveRequest struct {
	IDs []string `json:"ids"`
}

// TouchRequest is the optional body of POST /v1/sessions/{id}/touch.
type TouchRequest struct {
	User string `json:"user,omitempty"`
}

// SessionResponse is a stored record.
type SessionResponse struct {
	ID      string    `json:"id"`
	LastUse time.Time `json:"last_use"`
	User    string    `json:"user,omitempty"`
}

func fromRecord(rec domain.Record) SessionResponse {
	resp := SessionResponse{ID: rec.ID.String(), LastUse: rec.LastUse}
	if rec.User != nil {
		resp.User = rec.User.Name
	}
	return resp
}

// CountResponse reports how many sessions a call covered.
type CountResponse struct {
	Count int `json:"count"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retriable bool   `json:"retriable,omitempty"`
}
