package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Transaction runs operations in order and, when one fails, runs the
// compensations of the operations that already succeeded in reverse order.
type Transaction struct {
	operations []Operation
	logger     *zap.Logger
}

type Operation struct {
	Name       string
	Fn         func(context.Context) error
	Compensate func(context.Context) error
}

func NewTransaction(logger *zap.Logger) *Transaction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transaction{
		operations: []Operation{},
		logger:     logger,
	}
}

// AddOperation registers a step. compensate may be nil when the step has
// nothing to undo.
func (t *Transaction) AddOperation(name string, fn, compensate func(context.Context) error) {
	t.operations = append(t.operations, Operation{Name: name, Fn: fn, Compensate: compensate})
}

func (t *Transaction) Execute(ctx context.Context) error {
	for i, op := range t.operations {
		if err := op.Fn(ctx); err != nil {
			t.rollback(ctx, i)
			return fmt.Errorf("operation '%s' failed: %w (rolled back %d operations)", op.Name, err, i)
		}
	}

	return nil
}

func (t *Transaction) rollback(ctx context.Context, failedAtIndex int) {
	for i := failedAtIndex - 1; i >= 0; i-- {
		comp := t.operations[i].Compensate
		if comp == nil {
			continue
		}
		if err := comp(ctx); err != nil {
			t.logger.Warn("compensation failed",
				zap.String("operation", t.operations[i].Name),
				zap.Error(err),
			)
		}
	}
}
