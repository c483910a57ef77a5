package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"issueflow/internal/ports"
)

// dbFromContext returns the transaction carried by ctx, else db.
func dbFromContext(ctx context.Context, db *gorm.DB) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	switch tx := ports.TxFrom(ctx).(type) {
	case nil:
		return db.WithContext(ctx), nil
	case *gorm.DB:
		return tx.WithContext(ctx), nil
	default:
		return nil, fmt.Errorf("unexpected transaction handle %T", tx)
	}
}
