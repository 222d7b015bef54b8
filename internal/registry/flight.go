package registry

import (
	"context"
	"sync"
)

// flight is one in-progress piece of work shared by every caller asking for
// the same key.
type flight[T any] struct {
	done    chan struct{}
	val     T
	err     error
	waiters int
	cancel  context.CancelFunc
}

// flights deduplicates work per key like singleflight.Group, with one
// difference: the work runs on its own context, which is canceled once every
// caller has given up. Abandoned work never commits.
type flights[T any] struct {
	mu sync.Mutex
	m  map[string]*flight[T]
}

// do joins or starts the flight for key. fn runs detached from ctx; commit
// runs with the flight lock held, only when fn succeeded and at least one
// caller is still waiting.
func (fs *flights[T]) do(ctx context.Context, key string, fn func(context.Context) (T, error), commit func(T)) (T, error) {
	fs.mu.Lock()
	if fs.m == nil {
		fs.m = make(map[string]*flight[T])
	}
	f, ok := fs.m[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight[T]{done: make(chan struct{}), cancel: cancel}
		fs.m[key] = f
		go fs.run(fctx, key, f, fn, commit)
	}
	f.waiters++
	fs.mu.Unlock()

	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		fs.mu.Lock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
			if fs.m[key] == f {
				delete(fs.m, key)
			}
		}
		fs.mu.Unlock()
		var zero T
		return zero, ctx.Err()
	}
}

func (fs *flights[T]) run(ctx context.Context, key string, f *flight[T], fn func(context.Context) (T, error), commit func(T)) {
	val, err := fn(ctx)

	fs.mu.Lock()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && commit != nil {
		commit(val)
	}
	f.val, f.err = val, err
	if fs.m[key] == f {
		delete(fs.m, key)
	}
	fs.mu.Unlock()

	f.cancel()
	close(f.done)
}

// inFlight reports whether work for key is running.
func (fs *flights[T]) inFlight(key string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.m[key]
	return ok
}
