package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries the request context plus an optional open transaction so
// repos can run inside a caller-owned tx without re-plumbing signatures.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

func (c Context) WithTx(tx *gorm.DB) Context {
	return Context{Ctx: c.Ctx, Tx: tx}
}
