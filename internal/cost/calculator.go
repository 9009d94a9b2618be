// Package cost converts token usage into USD and tracks spend against
// the monthly budget.
package cost

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/internal/store"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for LLM usage.
type Calculator struct {
	rates map[string]ModelRate
}

// NewCalculator creates a Calculator with the given per-model rates
// merged over the defaults. Unknown models cost zero.
func NewCalculator(rates map[string]ModelRate) *Calculator {
	merged := DefaultRates()
	for name, r := range rates {
		merged[name] = r
	}
	return &Calculator{rates: merged}
}

// Tokens computes the cost of one call against the named model.
func (c *Calculator) Tokens(modelName string, usage model.TokenUsage) float64 {
	rate, ok := c.rates[modelName]
	if !ok {
		return 0
	}
	return (float64(usage.Input)/1e6)*rate.Input + (float64(usage.Output)/1e6)*rate.Output
}

// DefaultRates returns the default pricing rates.
func DefaultRates() map[string]ModelRate {
	return map[string]ModelRate{
		"deepseek-chat":             {Input: 0.27, Output: 1.10},
		"deepseek-reasoner":         {Input: 0.55, Output: 2.19},
		"deepseek/deepseek-chat":    {Input: 0.27, Output: 1.10},
		"claude-haiku-4-5-20251001": {Input: 0.80, Output: 4.00},
	}
}

// BudgetGuard tracks month-to-date spend and warns when the budget is
// exceeded. It never blocks detections; the budget is advisory.
type BudgetGuard struct {
	store      store.Store
	calc       *Calculator
	monthlyUSD float64
	nowFunc    func() time.Time
}

// NewBudgetGuard creates a guard over the given store. A zero budget
// disables the warning.
func NewBudgetGuard(st store.Store, calc *Calculator, monthlyUSD float64) *BudgetGuard {
	return &BudgetGuard{
		store:      st,
		calc:       calc,
		monthlyUSD: monthlyUSD,
		nowFunc:    time.Now,
	}
}

// Record accounts one stage's usage and checks the budget.
func (g *BudgetGuard) Record(ctx context.Context, stage model.Stage, modelName string, usage model.TokenUsage) error {
	if usage.Total() == 0 {
		return nil
	}
	costUSD := g.calc.Tokens(modelName, usage)
	if err := g.store.RecordUsage(ctx, g.nowFunc(), stage, usage, costUSD); err != nil {
		return eris.Wrap(err, "cost: record usage")
	}

	spent, err := g.MonthToDate(ctx)
	if err != nil {
		return eris.Wrap(err, "cost: month to date")
	}
	if g.monthlyUSD > 0 && spent > g.monthlyUSD {
		zap.L().Warn("monthly LLM budget exceeded",
			zap.Float64("spent_usd", spent),
			zap.Float64("budget_usd", g.monthlyUSD))
	}
	return nil
}

// MonthToDate sums spend since the first day of the current month.
func (g *BudgetGuard) MonthToDate(ctx context.Context) (float64, error) {
	now := g.nowFunc().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats, err := g.store.UsageSince(ctx, monthStart)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, s := range stats {
		total += s.CostUSD
	}
	return total, nil
}
