package domain

// API request/response shapes shared between services and handlers.

// Summary is the dashboard aggregate: standing monthly figures plus the
// current month's ad-hoc spending.
type Summary struct {
	IncomeTotal float64 `json:"entrateMensili"`
	CostTotal   float64 `json:"usciteMensili"`
	Balance     float64 `json:"saldo"`
	Deficit     bool    `json:"deficit"`
	// MonthExpenses is the sum of current-month expense transactions;
	// Available is Balance minus MonthExpenses.
	MonthExpenses float64 `json:"speseMese"`
	Available     float64 `json:"disponibile"`
	// Real bank account balances from settings, parsed leniently.
	AccountUser1  float64 `json:"ccUser1"`
	AccountUser2  float64 `json:"ccUser2"`
	AccountsTotal float64 `json:"ccTotale"`
	Currency      string  `json:"currency"`
}

// MonthBucket is one entry of the six-month history: total income-kind and
// expense-kind transaction amounts for one calendar month.
type MonthBucket struct {
	Label   string  `json:"label"`
	Income  float64 `json:"entrate"`
	Expense float64 `json:"uscite"`
}

// SyncStatus is the two-valued connectivity signal plus the reporting
// device's name. It is informational only: local reads and writes
// succeed regardless.
type SyncStatus struct {
	Status string `json:"status"` // "online" | "offline"
	Device string `json:"device,omitempty"`
}

// SyncMetrics is a JSON snapshot of the sync counters for the
// GET /v1/metrics/sync endpoint.
type SyncMetrics struct {
	PushesOK          int64   `json:"pushes_ok"`
	PushesFailed      int64   `json:"pushes_failed"`
	PushErrorRate     float64 `json:"push_error_rate"`
	SnapshotsReceived int64   `json:"snapshots_received"`
	Online            bool    `json:"online"`
}

// ImportResult reports a spreadsheet import: rows committed, rows skipped
// because of an invalid or zero amount, and a batch id for tracing.
type ImportResult struct {
	BatchID  string `json:"batchId"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
}

// LoginRequest selects a household member and proves knowledge of the
// shared passphrase.
type LoginRequest struct {
	User       string `json:"user"`
	Passphrase string `json:"passphrase"`
}

// LoginResponse carries the signed access token.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	User        string `json:"user"`
}
