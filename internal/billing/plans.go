package billing

import (
	billingmodel "github.com/storiesoff/backend/internal/core/datamodel/billing"
)

// Plan is one entry of the fixed catalog. The catalog is process-wide
// configuration, not user-editable data; adding a plan means shipping code.
type Plan struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Tier         string   `json:"-"`
	DurationDays int      `json:"duration"`
	Price        float64  `json:"price"`
	Currency     string   `json:"currency"`
	Features     []string `json:"features"`
}

var planCatalog = map[string]Plan{
	"premium-monthly": {
		ID:           "premium-monthly",
		Name:         "Премиум (Месяц)",
		Tier:         billingmodel.PlanTypePremium,
		DurationDays: 30,
		Price:        299,
		Currency:     "RUB",
		Features: []string{
			"150 генераций в месяц",
			"Выбор стилей",
			"Быстрые генерации",
			"Эксклюзивные стили",
			"Приоритетная поддержка",
		},
	},
	"premium-yearly": {
		ID:           "premium-yearly",
		Name:         "Премиум (Год)",
		Tier:         billingmodel.PlanTypePremium,
		DurationDays: 365,
		Price:        2990,
		Currency:     "RUB",
		Features: []string{
			"150 генераций в месяц",
			"Выбор стилей",
			"Быстрые генерации",
			"Эксклюзивные стили",
			"Приоритетная поддержка",
			"Экономия 17% при годовой подписке",
		},
	},
	"ultra-monthly": {
		ID:           "ultra-monthly",
		Name:         "Ultra (Месяц)",
		Tier:         billingmodel.PlanTypeUltra,
		DurationDays: 30,
		Price:        999,
		Currency:     "RUB",
		Features: []string{
			"Безлимитные генерации",
			"Создание кастомных стилей",
			"Быстрые генерации",
			"VIP поддержка",
		},
	},
	"ultra-yearly": {
		ID:           "ultra-yearly",
		Name:         "Ultra (Год)",
		Tier:         billingmodel.PlanTypeUltra,
		DurationDays: 365,
		Price:        9990,
		Currency:     "RUB",
		Features: []string{
			"Безлимитные генерации",
			"Создание кастомных стилей",
			"Быстрые генерации",
			"VIP поддержка",
			"Экономия 17% при годовой подписке",
		},
	},
}

// planOrder keeps the /plans listing stable; map iteration would shuffle it.
var planOrder = []string{"premium-monthly", "premium-yearly", "ultra-monthly", "ultra-yearly"}

// LookupPlan resolves a plan id against the catalog.
func LookupPlan(planID string) (Plan, bool) {
	p, ok := planCatalog[planID]
	return p, ok
}

// Plans returns the catalog in listing order for the public plans endpoint.
func Plans() []Plan {
	out := make([]Plan, 0, len(planOrder))
	for _, id := range planOrder {
		out = append(out, planCatalog[id])
	}
	return out
}
