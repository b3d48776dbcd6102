// Package store persists analysis requests and their findings.
//
// Findings are stored under their request id and always replaced as a unit
// with the request's state and error message. Mutations from concurrent
// analyses must go through Serial, which runs them on one goroutine.
package store

import (
	"context"
	"errors"

	"github.com/timvw/fallacy-patrol/internal/model"
)

var (
	// ErrNotFound is returned for unknown request ids.
	ErrNotFound = errors.New("analysis request not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Store is the durable collection of analysis requests.
type Store interface {
	// Get returns a copy of the request, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.AnalysisRequest, error)
	// Save inserts or fully replaces a request, including its findings.
	// The source text of an existing request is never changed.
	Save(ctx context.Context, r *model.AnalysisRequest) error
	// List returns requests oldest first.
	List(ctx context.Context, f Filter) ([]*model.AnalysisRequest, error)
	// Delete removes a request and its findings, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Cursor returns a named persisted integer and whether it was set.
	Cursor(ctx context.Context, name string) (int, bool, error)
	// SetCursor stores a named integer.
	SetCursor(ctx context.Context, name string, value int) error

	Close() error
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	State model.State
	// Limit keeps only the newest Limit requests when positive.
	Limit int
}

func (f Filter) match(r *model.AnalysisRequest) bool {
	return f.State == "" || r.State == f.State
}

// applyLimit keeps the last n entries of an oldest-first slice.
func applyLimit(reqs []*model.AnalysisRequest, n int) []*model.AnalysisRequest {
	if n > 0 && len(reqs) > n {
		return reqs[len(reqs)-n:]
	}
	return reqs
}
