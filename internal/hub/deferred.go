package hub

import (
	"context"
	"fmt"
	"sync"
)

// Deferred is the outcome of a hub method invocation. Synchronous methods
// produce an already completed Deferred so callers handle both kinds alike.
type Deferred interface {
	Await(ctx context.Context) (any, error)
}

// Promise is a single-assignment Deferred.
type Promise struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Completed returns a Promise already resolved with v.
func Completed(v any) *Promise {
	p := NewPromise()
	p.Resolve(v)
	return p
}

// Failed returns a Promise already rejected with err.
func Failed(err error) *Promise {
	p := NewPromise()
	p.Reject(err)
	return p
}

// Async runs fn on its own goroutine and settles the returned Promise with
// its outcome. A panic in fn rejects the Promise.
func Async(fn func() (any, error)) *Promise {
	p := NewPromise()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.Reject(fmt.Errorf("panic: %v", r))
			}
		}()
		v, err := fn()
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}

func (p *Promise) Resolve(v any) bool {
	return p.settle(v, nil)
}

func (p *Promise) Reject(err error) bool {
	if err == nil {
		err = fmt.Errorf("promise rejected with nil error")
	}
	return p.settle(nil, err)
}

func (p *Promise) settle(v any, err error) bool {
	settled := false
	p.once.Do(func() {
		p.value = v
		p.err = err
		close(p.done)
		settled = true
	})
	return settled
}

func (p *Promise) Done() <-chan struct{} {
	return p.done
}

func (p *Promise) IsCompleted() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func isCompleted(d Deferred) bool {
	p, ok := d.(*Promise)
	return ok && p.IsCompleted()
}
