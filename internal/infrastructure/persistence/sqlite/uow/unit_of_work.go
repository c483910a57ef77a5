// Package uow runs tracker writes in one gorm transaction.
package uow

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

type UnitOfWork struct {
	db *gorm.DB
}

var _ ports.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if _, ok := ports.TxFrom(ctx).(*gorm.DB); ok {
		return fn(ctx)
	}
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.ContextWithTx(ctx, tx))
	})
	return errs.Wrap(err, "sqlite transaction")
}
