package store

import (
	"context"
	"sync"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// Serial runs every mutation of the wrapped store on one dedicated
// goroutine, in arrival order. Reads go straight to the wrapped store.
type Serial struct {
	Store

	ops       chan func()
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSerial starts the writer goroutine. Close stops it and closes s.
func NewSerial(s Store) *Serial {
	w := &Serial{
		Store: s,
		ops:   make(chan func()),
		quit:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Serial) loop() {
	defer w.wg.Done()
	for {
		select {
		case op := <-w.ops:
			op()
		case <-w.quit:
			return
		}
	}
}

// do hands op to the writer and waits for its result. Cancelling ctx only
// abandons the wait while op is still queued; once the writer has taken op,
// op runs to completion under a context without cancellation and its result
// is returned.
func (w *Serial) do(ctx context.Context, op func(context.Context) error) error {
	result := make(chan error, 1)
	opCtx := context.WithoutCancel(ctx)
	select {
	case w.ops <- func() { result <- op(opCtx) }:
	case <-w.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-result
}

func (w *Serial) Save(ctx context.Context, r *model.AnalysisRequest) error {
	c := r.Clone()
	return w.do(ctx, func(ctx context.Context) error { return w.Store.Save(ctx, c) })
}

func (w *Serial) Delete(ctx context.Context, id string) error {
	return w.do(ctx, func(ctx context.Context) error { return w.Store.Delete(ctx, id) })
}

func (w *Serial) SetCursor(ctx context.Context, name string, value int) error {
	return w.do(ctx, func(ctx context.Context) error { return w.Store.SetCursor(ctx, name, value) })
}

// Update applies fn to the current request and saves the result, all on the
// writer goroutine, so no other mutation interleaves between read and write.
// fn returning an error aborts the update.
func (w *Serial) Update(ctx context.Context, id string, fn func(*model.AnalysisRequest) error) (*model.AnalysisRequest, error) {
	var updated *model.AnalysisRequest
	err := w.do(ctx, func(ctx context.Context) error {
		r, err := w.Store.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		if err := w.Store.Save(ctx, r); err != nil {
			return err
		}
		updated = r.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Close stops the writer goroutine and closes the wrapped store.
func (w *Serial) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.quit)
		w.wg.Wait()
		err = w.Store.Close()
	})
	return err
}

// Update applies fn to request id and saves it. On a *Serial the
// read-modify-write runs on the writer goroutine; other stores fall back to
// Get followed by Save.
func Update(ctx context.Context, s Store, id string, fn func(*model.AnalysisRequest) error) (*model.AnalysisRequest, error) {
	if u, ok := s.(interface {
		Update(context.Context, string, func(*model.AnalysisRequest) error) (*model.AnalysisRequest, error)
	}); ok {
		return u.Update(ctx, id, fn)
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, r); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}
