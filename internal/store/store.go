package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"
)

// ErrNotFound is the typed "not found" signal for reads and updates.
var ErrNotFound = errors.New("not found")

const DefaultCategory = "Otros"

type Transaction struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	Category string    `json:"category"`
	Merchant string    `json:"merchant"`
	Note     string    `json:"note,omitempty"`
	Date     time.Time `json:"date"`
}

type Budget struct {
	UserID       string  `json:"user_id"`
	Category     string  `json:"category"`
	MonthlyLimit float64 `json:"monthly_limit"`
}

// CategoryRule maps a merchant glob pattern to a category. Patterns are
// matched case-insensitively against the merchant name ("merca*").
type CategoryRule struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
}

// RecurringRule is a template materialized once per month on DayOfMonth.
type RecurringRule struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Category   string  `json:"category"`
	Merchant   string  `json:"merchant"`
	DayOfMonth int     `json:"day_of_month"`

	lastRun string // "2026-08" once materialized for that month
}

// Store is an in-memory, per-user financial record store. Every read and
// write is scoped by userID; rows never leak across users.
type Store struct {
	mu        sync.RWMutex
	tx        map[string][]Transaction
	budgets   map[string]map[string]Budget
	rules     []CategoryRule
	recurring map[string][]RecurringRule
}

func New() *Store {
	return &Store{
		tx:        map[string][]Transaction{},
		budgets:   map[string]map[string]Budget{},
		recurring: map[string][]RecurringRule{},
		rules:     defaultCategoryRules(),
	}
}

func defaultCategoryRules() []CategoryRule {
	return []CategoryRule{
		{Pattern: "merca*", Category: "Supermercado"},
		{Pattern: "carrefour*", Category: "Supermercado"},
		{Pattern: "lidl*", Category: "Supermercado"},
		{Pattern: "repsol*", Category: "Transporte"},
		{Pattern: "cepsa*", Category: "Transporte"},
		{Pattern: "renfe*", Category: "Transporte"},
		{Pattern: "netflix*", Category: "Suscripciones"},
		{Pattern: "spotify*", Category: "Suscripciones"},
		{Pattern: "farmacia*", Category: "Salud"},
	}
}

// CategoryFor resolves a merchant name to a category via the glob rules,
// falling back to DefaultCategory.
func (s *Store) CategoryFor(merchant string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := strings.ToLower(strings.TrimSpace(merchant))
	for _, r := range s.rules {
		if ok, err := doublestar.Match(strings.ToLower(r.Pattern), m); err == nil && ok {
			return r.Category
		}
	}
	return DefaultCategory
}

func (s *Store) AddCategoryRule(rule CategoryRule) error {
	if _, err := doublestar.Match(rule.Pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", rule.Pattern, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
	return nil
}

// InsertTransaction validates and stores a new row. Validation happens
// before any mutation; an invalid row leaves the store untouched.
func (s *Store) InsertTransaction(userID string, tx Transaction) (Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return Transaction{}, fmt.Errorf("user id is required")
	}
	if tx.Amount <= 0 {
		return Transaction{}, fmt.Errorf("amount must be positive, got %.2f", tx.Amount)
	}
	if strings.TrimSpace(tx.Merchant) == "" && strings.TrimSpace(tx.Note) == "" {
		return Transaction{}, fmt.Errorf("merchant or note is required")
	}
	if tx.Currency == "" {
		tx.Currency = "EUR"
	}
	if tx.Category == "" {
		tx.Category = s.CategoryFor(tx.Merchant)
	}
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}
	tx.ID = ulid.Make().String()
	tx.UserID = userID

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx[userID] = append(s.tx[userID], tx)
	return tx, nil
}

// TransactionPatch carries the optional fields of an update. Nil fields are
// left unchanged.
type TransactionPatch struct {
	Amount   *float64
	Category *string
	Merchant *string
	Note     *string
	Date     *time.Time
}

func (s *Store) UpdateTransaction(userID, id string, patch TransactionPatch) (Transaction, error) {
	if patch.Amount != nil && *patch.Amount <= 0 {
		return Transaction{}, fmt.Errorf("amount must be positive, got %.2f", *patch.Amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tx[userID]
	for i := range rows {
		if rows[i].ID != id {
			continue
		}
		if patch.Amount != nil {
			rows[i].Amount = *patch.Amount
		}
		if patch.Category != nil {
			rows[i].Category = *patch.Category
		}
		if patch.Merchant != nil {
			rows[i].Merchant = *patch.Merchant
		}
		if patch.Note != nil {
			rows[i].Note = *patch.Note
		}
		if patch.Date != nil {
			rows[i].Date = *patch.Date
		}
		return rows[i], nil
	}
	return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
}

// ListTransactions returns the user's rows in [from, to), oldest first.
// Zero bounds mean unbounded on that side.
func (s *Store) ListTransactions(userID string, from, to time.Time) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.tx[userID] {
		if !from.IsZero() && tx.Date.Before(from) {
			continue
		}
		if !to.IsZero() && !tx.Date.Before(to) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (s *Store) SetBudget(userID string, b Budget) (Budget, error) {
	if strings.TrimSpace(userID) == "" {
		return Budget{}, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(b.Category) == "" {
		return Budget{}, fmt.Errorf("category is required")
	}
	if b.MonthlyLimit <= 0 {
		return Budget{}, fmt.Errorf("monthly limit must be positive, got %.2f", b.MonthlyLimit)
	}
	b.UserID = userID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budgets[userID] == nil {
		s.budgets[userID] = map[string]Budget{}
	}
	s.budgets[userID][b.Category] = b
	return b, nil
}

func (s *Store) GetBudget(userID, category string) (Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.budgets[userID][category]
	if !ok {
		return Budget{}, fmt.Errorf("budget for %s: %w", category, ErrNotFound)
	}
	return b, nil
}

func (s *Store) ListBudgets(userID string) []Budget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Budget, 0, len(s.budgets[userID]))
	for _, b := range s.budgets[userID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func (s *Store) AddRecurring(userID string, r RecurringRule) (RecurringRule, error) {
	if r.Amount <= 0 {
		return RecurringRule{}, fmt.Errorf("amount must be positive, got %.2f", r.Amount)
	}
	if r.DayOfMonth < 1 || r.DayOfMonth > 28 {
		return RecurringRule{}, fmt.Errorf("day of month must be 1..28, got %d", r.DayOfMonth)
	}
	if r.Currency == "" {
		r.Currency = "EUR"
	}
	if r.Category == "" {
		r.Category = s.CategoryFor(r.Merchant)
	}
	r.ID = ulid.Make().String()
	r.UserID = userID
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recurring[userID] = append(s.recurring[userID], r)
	return r, nil
}

// MaterializeRecurring inserts one transaction per due template that has not
// yet run this month. Returns the number of rows inserted.
func (s *Store) MaterializeRecurring(now time.Time) int {
	month := now.Format("2006-01")
	type due struct {
		userID string
		tx     Transaction
	}
	var pending []due

	s.mu.Lock()
	for userID, rules := range s.recurring {
		for i := range rules {
			r := &s.recurring[userID][i]
			if now.Day() < r.DayOfMonth || r.lastRun == month {
				continue
			}
			r.lastRun = month
			pending = append(pending, due{userID: userID, tx: Transaction{
				Amount:   r.Amount,
				Currency: r.Currency,
				Category: r.Category,
				Merchant: r.Merchant,
				Note:     "recurrente",
				Date:     time.Date(now.Year(), now.Month(), r.DayOfMonth, 0, 0, 0, 0, time.UTC),
			}})
		}
	}
	s.mu.Unlock()

	inserted := 0
	for _, d := range pending {
		if _, err := s.InsertTransaction(d.userID, d.tx); err == nil {
			inserted++
		}
	}
	return inserted
}
