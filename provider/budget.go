package provider

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrBudgetExhausted is returned by Spend once a request has issued as many
// external calls as its budget allows.
var ErrBudgetExhausted = errors.New("external call budget exhausted")

type budgetKey struct{}

// Budget counts external calls. Budgets nest: spending on a child also spends
// on every ancestor, so a per-reference budget inside a per-route budget is
// bounded by both.
type Budget struct {
	limit  int64
	used   atomic.Int64
	parent *Budget
}

// WithBudget returns a context carrying a fresh budget of limit calls,
// nested under any budget already present in ctx.
func WithBudget(ctx context.Context, limit int) (context.Context, *Budget) {
	parent, _ := ctx.Value(budgetKey{}).(*Budget)

	b := &Budget{limit: int64(limit), parent: parent}

	return context.WithValue(ctx, budgetKey{}, b), b
}

// BudgetFrom returns the innermost budget of ctx, or nil.
func BudgetFrom(ctx context.Context) *Budget {
	b, _ := ctx.Value(budgetKey{}).(*Budget)

	return b
}

// Spend records one external call against every budget in ctx. Contexts
// without a budget are unbounded.
func Spend(ctx context.Context) error {
	b := BudgetFrom(ctx)
	if b == nil {
		return nil
	}

	return b.spend()
}

func (b *Budget) spend() error {
	for cur := b; cur != nil; cur = cur.parent {
		if cur.used.Load() >= cur.limit {
			return fmt.Errorf("%w: %d calls", ErrBudgetExhausted, cur.limit)
		}
	}

	for cur := b; cur != nil; cur = cur.parent {
		cur.used.Add(1)
	}

	return nil
}

// Used returns the number of calls spent on this budget.
func (b *Budget) Used() int {
	if b == nil {
		return 0
	}

	return int(b.used.Load())
}
