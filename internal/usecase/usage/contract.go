package usage

import "github.com/kailas-cloud/askdex/internal/usecase/gateway"

// BudgetSource provides read-only snapshots of provider token budgets.
type BudgetSource interface {
	Budgets() []gateway.BudgetReport
}
