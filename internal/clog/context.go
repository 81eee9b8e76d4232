// Package clog carries request-scoped log attributes through a context so
// that every slog record emitted while serving a request is tagged with them.
package clog

import (
	"context"
	"sync"
)

type attrBag struct {
	mu    sync.RWMutex
	attrs map[string]any
}

type bagKey struct{}

// ContextWithSlog returns a child context holding an empty attribute bag.
func ContextWithSlog(ctx context.Context) context.Context {
	return context.WithValue(ctx, bagKey{}, &attrBag{attrs: map[string]any{}})
}

func bagFrom(ctx context.Context) *attrBag {
	b, _ := ctx.Value(bagKey{}).(*attrBag)
	return b
}

func AddAttribute(ctx context.Context, key string, value any) {
	b := bagFrom(ctx)
	if b == nil {
		return
	}
	b.mu.Lock()
	b.attrs[key] = value
	b.mu.Unlock()
}

func AddAttributes(ctx context.Context, attrs map[string]any) {
	b := bagFrom(ctx)
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range attrs {
		b.attrs[k] = v
	}
}

const ErrorAttributeKey = "error.message"

func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddAttribute(ctx, ErrorAttributeKey, err.Error())
}

// Attributes returns a copy of the bag, nil when ctx carries none.
func Attributes(ctx context.Context) map[string]any {
	b := bagFrom(ctx)
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.attrs))
	for k, v := range b.attrs {
		out[k] = v
	}
	return out
}
