package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lmoreno/finchat/internal/llm"
	"github.com/lmoreno/finchat/internal/store"
)

// RegisterFinanceTools wires the domain tools over the store into the
// registry. Read tools perform no writes; mutating tools carry
// RequiresConfirmation and a Spanish confirmation template.
func RegisterFinanceTools(reg *Registry, st *store.Store) error {
	readTools := []RegisteredTool{
		{
			Definition: llm.ToolDefinition{
				Name:        "analyzeSpending",
				Description: "Analiza el gasto del usuario en un periodo: total, número de movimientos y desglose por categoría.",
				Parameters: objectSchema(map[string]any{
					"period_days": map[string]any{"type": "integer", "minimum": 1, "maximum": 365, "description": "Días hacia atrás a analizar (por defecto 30)."},
				}, nil),
			},
			Exec: func(ctx context.Context, userID string, args map[string]any) (any, error) {
				return analyzeSpending(st, userID, argInt(args, "period_days", 30))
			},
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "checkBudget",
				Description: "Compara el gasto del mes en curso con los presupuestos configurados por categoría.",
				Parameters: objectSchema(map[string]any{
					"category": map[string]any{"type": "string", "description": "Categoría concreta; vacío para todas."},
				}, nil),
			},
			Exec: func(ctx context.Context, userID string, args map[string]any) (any, error) {
				return checkBudget(st, userID, argString(args, "category"))
			},
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "detectAnomalies",
				Description: "Detecta movimientos inusualmente altos comparados con la media de su categoría.",
				Parameters: objectSchema(map[string]any{
					"period_days": map[string]any{"type": "integer", "minimum": 7, "maximum": 365, "description": "Ventana de análisis (por defecto 90 días)."},
				}, nil),
			},
			Exec: func(ctx context.Context, userID string, args map[string]any) (any, error) {
				return detectAnomalies(st, userID, argInt(args, "period_days", 90))
			},
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "predictSpending",
				Description: "Proyecta el gasto total a fin de mes a partir del ritmo actual.",
			},
			Exec: func(ctx context.Context, userID string, args map[string]any) (any, error) {
				return predictSpending(st, userID, time.Now().UTC())
			},
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "viewTrends",
				Description: "Muestra la evolución del gasto mensual de los últimos meses.",
				Parameters: objectSchema(map[string]any{
					"months": map[string]any{"type": "integer", "minimum": 2, "maximum": 24, "description": "Número de meses (por defecto 6)."},
				}, nil),
			},
			Exec: func(ctx context.Context, userID string, args map[string]any) (any, error) {
				return viewTrends(st, userID, argInt(args, "months", 6), time.Now().UTC())
			},
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "planScenario",
				Description: "Simula cuánto ahorraría el usuario recortando un porcentaje del gasto de una categoría.",
				Parameters: objectSchema(map[string]any{
					"category":    map[string]any{"type": "string", "description": "Categoría a recortar."},
					"cut_percent": map[string]any{"type": "number", "minimum": 1, "maximum": 100, "description": "Porcentaje de recorte."},
				}, []string{"category", "cut_percent"}),
			},
			Exec: func(ctx context.Context, userID string, args map[string]any) (any, error) {
				return planScenario(st, userID, argString(args, "category"), argNumber(args, "cut_percent", 0))
			},
		},
	}

	writeTools := []RegisteredTool{
		{
			Definition: llm.ToolDefinition{
				Name:        "createTransaction",
				Description: "Registra un nuevo gasto del usuario. Requiere confirmación explícita.",
				Parameters: objectSchema(map[string]any{
					"amount":   map[string]any{"type": "number", "exclusiveMinimum": 0, "description": "Importe en euros."},
					"merchant": map[string]any{"type": "string", "description": "Comercio o concepto del gasto."},
					"category": map[string]any{"type": "string", "description": "Categoría; si falta se propone automáticamente."},
					"note":     map[string]any{"type": "string"},
					"date":     map[string]any{"type": "string", "description": "Fecha AAAA-MM-DD; por defecto hoy."},
				}, []string{"amount", "merchant"}),
			},
			RequiresConfirmation: true,
			Confirm: func(args map[string]any) string {
				amount := argNumber(args, "amount", 0)
				merchant := argString(args, "merchant")
				category := argString(args, "category")
				if category == "" {
					category = st.CategoryFor(merchant)
				}
				return fmt.Sprintf("¿Quieres añadir un gasto de %s€ en %s (categoría %s)?", formatAmount(amount), merchant, category)
			},
			Exec: func(ctx context.Context, userID string, args map[string]any) (any, error) {
				return createTransaction(st, userID, args)
			},
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "updateTransaction",
				Description: "Modifica un gasto existente por su identificador. Requiere confirmación explícita.",
				Parameters: objectSchema(map[string]any{
					"id":       map[string]any{"type": "string", "description": "Identificador del movimiento."},
					"amount":   map[string]any{"type": "number", "exclusiveMinimum": 0},
					"merchant": map[string]any{"type": "string"},
					"category": map[string]any{"type": "string"},
					"note":     map[string]any{"type": "string"},
				}, []string{"id"}),
			},
			RequiresConfirmation: true,
			Confirm: func(args map[string]any) string {
				return fmt.Sprintf("¿Quieres modificar el movimiento %s?", argString(args, "id"))
			},
			Exec: func(ctx context.Context, userID string, args map[string]any) (any, error) {
				return updateTransaction(st, userID, args)
			},
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "setBudget",
				Description: "Fija o actualiza el presupuesto mensual de una categoría. Requiere confirmación explícita.",
				Parameters: objectSchema(map[string]any{
					"category":      map[string]any{"type": "string"},
					"monthly_limit": map[string]any{"type": "number", "exclusiveMinimum": 0, "description": "Límite mensual en euros."},
				}, []string{"category", "monthly_limit"}),
			},
			RequiresConfirmation: true,
			Confirm: func(args map[string]any) string {
				return fmt.Sprintf("¿Quieres fijar el presupuesto de %s en %s€ al mes?",
					argString(args, "category"), formatAmount(argNumber(args, "monthly_limit", 0)))
			},
			Exec: func(ctx context.Context, userID string, args map[string]any) (any, error) {
				b, err := st.SetBudget(userID, store.Budget{
					Category:     argString(args, "category"),
					MonthlyLimit: argNumber(args, "monthly_limit", 0),
				})
				if err != nil {
					return nil, err
				}
				return b, nil
			},
		},
	}

	for _, t := range append(readTools, writeTools...) {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// --- read tool implementations ---

func analyzeSpending(st *store.Store, userID string, periodDays int) (any, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -periodDays)
	rows := st.ListTransactions(userID, from, time.Time{})

	total := 0.0
	byCategory := map[string]float64{}
	for _, tx := range rows {
		total += tx.Amount
		byCategory[tx.Category] += tx.Amount
	}
	top := ""
	for cat, amt := range byCategory {
		if top == "" || amt > byCategory[top] {
			top = cat
		}
	}
	return map[string]any{
		"period_days":  periodDays,
		"total":        round2(total),
		"transactions": len(rows),
		"by_category":  roundMap(byCategory),
		"top_category": top,
	}, nil
}

func checkBudget(st *store.Store, userID, category string) (any, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	rows := st.ListTransactions(userID, monthStart, time.Time{})
	spent := map[string]float64{}
	for _, tx := range rows {
		spent[tx.Category] += tx.Amount
	}

	budgets := st.ListBudgets(userID)
	if category != "" {
		b, err := st.GetBudget(userID, category)
		if err != nil {
			return nil, fmt.Errorf("no hay presupuesto configurado para %s", category)
		}
		budgets = []store.Budget{b}
	}
	if len(budgets) == 0 {
		return map[string]any{"budgets": []any{}, "note": "sin presupuestos configurados"}, nil
	}

	out := make([]map[string]any, 0, len(budgets))
	for _, b := range budgets {
		used := spent[b.Category]
		out = append(out, map[string]any{
			"category":      b.Category,
			"monthly_limit": round2(b.MonthlyLimit),
			"spent":         round2(used),
			"remaining":     round2(b.MonthlyLimit - used),
			"over_budget":   used > b.MonthlyLimit,
		})
	}
	return map[string]any{"budgets": out}, nil
}

func detectAnomalies(st *store.Store, userID string, periodDays int) (any, error) {
	now := time.Now().UTC()
	rows := st.ListTransactions(userID, now.AddDate(0, 0, -periodDays), time.Time{})

	sum := map[string]float64{}
	count := map[string]int{}
	for _, tx := range rows {
		sum[tx.Category] += tx.Amount
		count[tx.Category]++
	}

	var anomalies []map[string]any
	for _, tx := range rows {
		if count[tx.Category] < 3 {
			continue // not enough history for a meaningful mean
		}
		mean := sum[tx.Category] / float64(count[tx.Category])
		if tx.Amount > 2*mean {
			anomalies = append(anomalies, map[string]any{
				"id":            tx.ID,
				"merchant":      tx.Merchant,
				"category":      tx.Category,
				"amount":        round2(tx.Amount),
				"category_mean": round2(mean),
				"date":          tx.Date.Format("2006-01-02"),
			})
		}
	}
	return map[string]any{"period_days": periodDays, "anomalies": anomalies}, nil
}

func predictSpending(st *store.Store, userID string, now time.Time) (any, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	rows := st.ListTransactions(userID, monthStart, time.Time{})
	spent := 0.0
	for _, tx := range rows {
		spent += tx.Amount
	}
	daysElapsed := now.Day()
	daysInMonth := monthStart.AddDate(0, 1, -1).Day()
	dailyRate := spent / float64(daysElapsed)
	return map[string]any{
		"month":           now.Format("2006-01"),
		"spent_so_far":    round2(spent),
		"daily_rate":      round2(dailyRate),
		"days_elapsed":    daysElapsed,
		"days_in_month":   daysInMonth,
		"projected_total": round2(dailyRate * float64(daysInMonth)),
	}, nil
}

func viewTrends(st *store.Store, userID string, months int, now time.Time) (any, error) {
	type monthTotal struct {
		Month string  `json:"month"`
		Total float64 `json:"total"`
	}
	out := make([]monthTotal, 0, months)
	for i := months - 1; i >= 0; i-- {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -i, 0)
		end := start.AddDate(0, 1, 0)
		total := 0.0
		for _, tx := range st.ListTransactions(userID, start, end) {
			total += tx.Amount
		}
		out = append(out, monthTotal{Month: start.Format("2006-01"), Total: round2(total)})
	}
	return map[string]any{"months": out}, nil
}

func planScenario(st *store.Store, userID, category string, cutPercent float64) (any, error) {
	if strings.TrimSpace(category) == "" {
		return nil, fmt.Errorf("category is required")
	}
	if cutPercent <= 0 || cutPercent > 100 {
		return nil, fmt.Errorf("cut_percent must be in (0,100], got %.1f", cutPercent)
	}
	now := time.Now().UTC()
	const window = 3
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -window, 0)
	total := 0.0
	for _, tx := range st.ListTransactions(userID, start, time.Time{}) {
		if tx.Category == category {
			total += tx.Amount
		}
	}
	monthlyAvg := total / float64(window)
	monthlySaving := monthlyAvg * cutPercent / 100
	return map[string]any{
		"category":        category,
		"cut_percent":     cutPercent,
		"monthly_average": round2(monthlyAvg),
		"monthly_saving":  round2(monthlySaving),
		"yearly_saving":   round2(monthlySaving * 12),
	}, nil
}

// --- write tool implementations ---

func createTransaction(st *store.Store, userID string, args map[string]any) (any, error) {
	tx := store.Transaction{
		Amount:   argNumber(args, "amount", 0),
		Merchant: argString(args, "merchant"),
		Category: argString(args, "category"),
		Note:     argString(args, "note"),
	}
	if d := argString(args, "date"); d != "" {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q, expected AAAA-MM-DD", d)
		}
		tx.Date = t
	}
	created, err := st.InsertTransaction(userID, tx)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func updateTransaction(st *store.Store, userID string, args map[string]any) (any, error) {
	id := argString(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	var patch store.TransactionPatch
	if v, ok := args["amount"].(float64); ok {
		patch.Amount = &v
	}
	if v := argString(args, "category"); v != "" {
		patch.Category = &v
	}
	if v := argString(args, "merchant"); v != "" {
		patch.Merchant = &v
	}
	if v := argString(args, "note"); v != "" {
		patch.Note = &v
	}
	updated, err := st.UpdateTransaction(userID, id, patch)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// --- helpers ---

func objectSchema(props map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func argNumber(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func argInt(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	if v, ok := args[key].(int); ok {
		return v
	}
	return def
}

// formatAmount renders euros without trailing zeros ("50", "12.5").
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func roundMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = round2(m[k])
	}
	return out
}
