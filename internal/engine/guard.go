package engine

import "context"

type frameKey struct{}

// enter acquires the engine for one call. The returned context marks the
// call frame; collaborators that call back into the engine with it are
// rejected with ErrReentrantCall instead of deadlocking.
func (e *Engine) enter(ctx context.Context) (context.Context, func(), error) {
	if e.inFrame(ctx) {
		return nil, nil, ErrReentrantCall
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return context.WithValue(ctx, frameKey{}, e), func() { <-e.sem }, nil
}

func (e *Engine) inFrame(ctx context.Context) bool {
	f, _ := ctx.Value(frameKey{}).(*Engine)
	return f == e
}
