package globals

import (
	"context"

	"htwg-backend/internal/portal"
	"htwg-backend/internal/service"
)

type ctxKey struct{}

type Value struct {
	Scrapers    service.Scrapers
	Credentials portal.Credentials
	Close       func() error
}

func Set(ctx context.Context, value *Value) context.Context {
	return context.WithValue(ctx, ctxKey{}, value)
}

func Get(ctx context.Context) *Value {
	return ctx.Value(ctxKey{}).(*Value)
}
