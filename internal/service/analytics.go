package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
)

// Aggregation over a ledger snapshot. Everything here is a pure function
// of the snapshot plus an explicit reference time: no stored state, safe
// to call concurrently with mutations because callers always pass a
// snapshot read at call time.

// RecurringCostTotal is the standing monthly outflow: every fixed cost
// plus the installment of every loan that still has installments left.
// A concluded loan (rateRimanenti <= 0) no longer costs anything.
func RecurringCostTotal(l *domain.Ledger) float64 {
	var total float64
	for _, c := range l.FixedCosts {
		total += c.Float(domain.FieldAmount)
	}
	for _, f := range l.Loans {
		if f.Float(domain.FieldRemaining) > 0 {
			total += f.Float(domain.FieldInstallment)
		}
	}
	return total
}

// IncomeTotal sums all income records. Income entries are standing
// monthly figures, not dated events, so none are filtered out.
func IncomeTotal(l *domain.Ledger) float64 {
	var total float64
	for _, e := range l.Income {
		total += e.Float(domain.FieldAmount)
	}
	return total
}

// Balance is monthly income minus recurring costs.
func Balance(l *domain.Ledger) float64 {
	return IncomeTotal(l) - RecurringCostTotal(l)
}

// CostDistribution groups fixed costs by category, with a synthetic
// bucket for active loan installments and a fallback bucket for
// uncategorized costs.
func CostDistribution(l *domain.Ledger) map[string]float64 {
	dist := map[string]float64{}
	for _, c := range l.FixedCosts {
		cat := c.Str(domain.FieldCategory)
		if cat == "" {
			cat = domain.CategoryOther
		}
		dist[cat] += c.Float(domain.FieldAmount)
	}
	for _, f := range l.Loans {
		if f.Float(domain.FieldRemaining) > 0 {
			dist[domain.CategoryLoans] += f.Float(domain.FieldInstallment)
		}
	}
	return dist
}

var monthNames = []string{"gen", "feb", "mar", "apr", "mag", "giu", "lug", "ago", "set", "ott", "nov", "dic"}

// SixMonthHistory buckets transaction amounts into the trailing six
// calendar months (current month last), split by kind. Bucketing is
// calendar year/month equality on the transaction date, not a rolling
// window; a transaction older than the window appears nowhere.
func SixMonthHistory(l *domain.Ledger, now time.Time) []domain.MonthBucket {
	result := make([]domain.MonthBucket, 0, 6)
	nowIdx := now.Year()*12 + int(now.Month()) - 1

	for i := 5; i >= 0; i-- {
		idx := nowIdx - i
		year, month := idx/12, idx%12+1

		b := domain.MonthBucket{
			Label: fmt.Sprintf("%s %02d", monthNames[month-1], year%100),
		}
		for _, t := range l.Transactions {
			ty, tm, ok := transactionMonth(t)
			if !ok || ty != year || tm != month {
				continue
			}
			switch t.Str(domain.FieldKind) {
			case domain.KindIncome:
				b.Income += t.Float(domain.FieldAmount)
			case domain.KindExpense:
				b.Expense += t.Float(domain.FieldAmount)
			}
		}
		result = append(result, b)
	}
	return result
}

// MonthExpenseTotal sums the current month's expense-kind transactions.
func MonthExpenseTotal(l *domain.Ledger, now time.Time) float64 {
	var total float64
	for _, t := range l.Transactions {
		if t.Str(domain.FieldKind) == domain.KindIncome {
			continue
		}
		ty, tm, ok := transactionMonth(t)
		if ok && ty == now.Year() && tm == int(now.Month()) {
			total += t.Float(domain.FieldAmount)
		}
	}
	return total
}

// BuildSummary assembles the dashboard aggregate.
func BuildSummary(l *domain.Ledger, now time.Time) *domain.Summary {
	income := IncomeTotal(l)
	costs := RecurringCostTotal(l)
	balance := income - costs
	monthExpenses := MonthExpenseTotal(l, now)

	cc1 := lenientFloat(l.Settings[domain.SettingCCUser1])
	cc2 := lenientFloat(l.Settings[domain.SettingCCUser2])

	return &domain.Summary{
		IncomeTotal:   income,
		CostTotal:     costs,
		Balance:       balance,
		Deficit:       balance < 0,
		MonthExpenses: monthExpenses,
		Available:     balance - monthExpenses,
		AccountUser1:  cc1,
		AccountUser2:  cc2,
		AccountsTotal: cc1 + cc2,
		Currency:      l.Settings[domain.SettingCurrency],
	}
}

// transactionMonth extracts calendar year and month from the record's
// date field. Dates are stored as YYYY-MM-DD; full timestamps are
// tolerated by looking at the date prefix only.
func transactionMonth(t domain.Record) (year, month int, ok bool) {
	date := t.Str(domain.FieldDate)
	if len(date) >= 10 {
		if parsed, err := time.Parse("2006-01-02", date[:10]); err == nil {
			return parsed.Year(), int(parsed.Month()), true
		}
	}
	if len(date) >= 7 {
		if parsed, err := time.Parse("2006-01", date[:7]); err == nil {
			return parsed.Year(), int(parsed.Month()), true
		}
	}
	return 0, 0, false
}

func lenientFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	if err != nil {
		return 0
	}
	return f
}
