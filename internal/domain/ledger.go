// Package domain holds the ledger model shared by every layer: the four
// record collections, the household settings, and the snapshot codec used
// by the remote sync channel.
package domain

import (
	"encoding/json"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Collection names. These match the original backup format so exported
// JSON files from older installations import cleanly.
const (
	CollectionFixedCosts   = "costifissi"
	CollectionLoans        = "finanziamenti"
	CollectionIncome       = "entrate"
	CollectionTransactions = "transazioni"
)

// Collections lists the four record collections in canonical order.
var Collections = []string{
	CollectionFixedCosts,
	CollectionLoans,
	CollectionIncome,
	CollectionTransactions,
}

// Record field names used across the service.
const (
	FieldID          = "id"
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
	FieldName        = "nome"
	FieldDescription = "descrizione"
	FieldAmount      = "importo"
	FieldCategory    = "categoria"
	FieldKind        = "tipo"
	FieldDate        = "data"
	FieldPerson      = "persona"
	FieldNote        = "note"
	FieldInstallment = "rata"
	FieldRemaining   = "rateRimanenti"
)

// Transaction kinds.
const (
	KindIncome  = "entrata"
	KindExpense = "uscita"
)

// Fallback bucket labels for the cost distribution.
const (
	CategoryOther = "Altro"
	CategoryLoans = "Finanziamenti"
)

// Settings is the household display/account configuration. It is a flat
// string map so shallow merges behave exactly like the stored JSON object:
// a key present in the patch wins, everything else is untouched.
type Settings map[string]string

// Settings keys.
const (
	SettingUser1    = "user1"
	SettingUser2    = "user2"
	SettingCurrency = "currency"
	SettingCCUser1  = "ccUser1"
	SettingCCUser2  = "ccUser2"
)

// DefaultSettings returns a fresh copy of the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		SettingUser1:    "Emanuele",
		SettingUser2:    "Elena",
		SettingCurrency: "€",
	}
}

// Merge returns a copy of s with over applied on top (shallow override).
func (s Settings) Merge(over Settings) Settings {
	out := make(Settings, len(s)+len(over))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Clone returns a copy of the settings map.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// UnmarshalJSON coerces scalar values of any JSON type to strings. The
// original client stored the account balances as numbers, so cached
// payloads, remote snapshots and old backups carry mixed value types.
// Nulls and nested values are dropped.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Settings, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	*s = out
	return nil
}

// Record is one entry in a collection. Records are schemaless on purpose:
// each collection has its own optional fields, updates are shallow patch
// merges, and unknown fields must survive a round trip through the remote
// store untouched.
type Record map[string]any

// ID returns the record id, or "" if the record was never finalized.
func (r Record) ID() string {
	return r.Str(FieldID)
}

// CreatedAt returns the creation timestamp as stored (ISO-8601 string).
func (r Record) CreatedAt() string {
	return r.Str(FieldCreatedAt)
}

// Str returns the field as a string, converting scalar types leniently.
func (r Record) Str(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Float returns the field as a float64. Missing, malformed or non-numeric
// values yield zero: aggregation never fails on dirty data.
func (r Record) Float(key string) float64 {
	f, _ := r.FloatOK(key)
	return f
}

// FloatOK is Float plus an explicit validity flag, used at the edit
// boundary where a missing amount must be rejected rather than zeroed.
func (r Record) FloatOK(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Clone returns a shallow copy of the record. Field values are scalars
// after JSON decoding, so a shallow copy is a full copy in practice.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge applies patch on top of the record in place. The id and creation
// timestamp are immutable and cannot be patched over.
func (r Record) Merge(patch Record) {
	for k, v := range patch {
		if k == FieldID || k == FieldCreatedAt {
			continue
		}
		r[k] = v
	}
}

// Ledger is the root aggregate: settings plus the four ordered record
// collections. Collection order is insertion order (ascending createdAt);
// it is re-derived by sort after every remote merge.
type Ledger struct {
	Settings     Settings `json:"settings"`
	FixedCosts   []Record `json:"costifissi"`
	Loans        []Record `json:"finanziamenti"`
	Income       []Record `json:"entrate"`
	Transactions []Record `json:"transazioni"`
}

// NewLedger returns a structurally valid empty ledger with default settings.
func NewLedger() *Ledger {
	return &Ledger{
		Settings:     DefaultSettings(),
		FixedCosts:   []Record{},
		Loans:        []Record{},
		Income:       []Record{},
		Transactions: []Record{},
	}
}

// Collection returns a pointer to the named collection slice, so callers
// can mutate it in place, and false for an unknown name.
func (l *Ledger) Collection(name string) (*[]Record, bool) {
	switch name {
	case CollectionFixedCosts:
		return &l.FixedCosts, true
	case CollectionLoans:
		return &l.Loans, true
	case CollectionIncome:
		return &l.Income, true
	case CollectionTransactions:
		return &l.Transactions, true
	default:
		return nil, false
	}
}

// Clone deep-copies the ledger. Mutations always operate on a cloned
// snapshot, never on a live reference shared with readers.
func (l *Ledger) Clone() *Ledger {
	return &Ledger{
		Settings:     l.Settings.Clone(),
		FixedCosts:   cloneRecords(l.FixedCosts),
		Loans:        cloneRecords(l.Loans),
		Income:       cloneRecords(l.Income),
		Transactions: cloneRecords(l.Transactions),
	}
}

func cloneRecords(in []Record) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

const base36Digits = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID generates a record id from the current time plus a random suffix,
// both in base 36. Collision probability within a two-device household is
// negligible.
func NewID() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 36))
	for i := 0; i < 11; i++ {
		b.WriteByte(base36Digits[rand.Intn(len(base36Digits))])
	}
	return b.String()
}

// NowISO returns the current UTC time formatted like the stored
// timestamps: millisecond precision, Z suffix. Lexicographic order on
// these strings is chronological order.
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
