package ctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	DB  *gorm.DB
	Ctx context.Context
}

func NewContext(ctx context.Context, db *gorm.DB) *Context {
	return &Context{
		Ctx: ctx,
		DB:  db,
	}
}

func (c *Context) GetDB() *gorm.DB {
	return c.DB
}
