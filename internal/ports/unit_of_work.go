package ports

import "context"

// UnitOfWork groups tracker writes that must land together, such as swapping
// a state label and recording the audit row. fn commits when it returns nil.
// A call made while ctx already carries a transaction joins it.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type txKey struct{}

// ContextWithTx stores an adapter-specific transaction handle in ctx.
func ContextWithTx(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom returns the transaction handle stored in ctx, or nil.
func TxFrom(ctx context.Context) any {
	if ctx == nil {
		return nil
	}
	return ctx.Value(txKey{})
}
