package domain

import (
	"encoding/json"
	"sort"
)

// RemoteSnapshot is the transport shape of a ledger. The remote store has
// no ordered-list primitive, so each collection travels as a map keyed by
// record id; order is dropped outbound and re-derived inbound by sorting
// on createdAt.
//
// Conflict policy is last-writer-wins over the whole snapshot: whichever
// client wrote last is authoritative for every record and setting,
// including fields neither client touched. That is a deliberate
// simplification for a two-user household, not a CRDT.
type RemoteSnapshot struct {
	Settings     Settings          `json:"settings,omitempty"`
	FixedCosts   map[string]Record `json:"costifissi,omitempty"`
	Loans        map[string]Record `json:"finanziamenti,omitempty"`
	Income       map[string]Record `json:"entrate,omitempty"`
	Transactions map[string]Record `json:"transazioni,omitempty"`
}

// IsEmpty reports whether the snapshot carries no data at all (a fresh
// remote root that nobody has written yet).
func (s *RemoteSnapshot) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.Settings) == 0 &&
		len(s.FixedCosts) == 0 &&
		len(s.Loans) == 0 &&
		len(s.Income) == 0 &&
		len(s.Transactions) == 0
}

// ToRemote maps a ledger to its transport shape. A record without an id
// is silently excluded; the store never produces one, this only guards
// hand-edited backups.
func ToRemote(l *Ledger) *RemoteSnapshot {
	return &RemoteSnapshot{
		Settings:     l.Settings.Clone(),
		FixedCosts:   recordsToMap(l.FixedCosts),
		Loans:        recordsToMap(l.Loans),
		Income:       recordsToMap(l.Income),
		Transactions: recordsToMap(l.Transactions),
	}
}

// FromRemote maps a transport snapshot back to an ordered ledger.
//
// Settings are merged over the defaults only — not over the currently
// active local settings. A remote snapshot missing a key therefore falls
// back to the default value even if the local device had set one. This
// mirrors the fresh-load path asymmetrically on purpose; see DESIGN.md.
func FromRemote(s *RemoteSnapshot) *Ledger {
	if s == nil {
		return NewLedger()
	}
	return &Ledger{
		Settings:     DefaultSettings().Merge(s.Settings),
		FixedCosts:   mapToRecords(s.FixedCosts),
		Loans:        mapToRecords(s.Loans),
		Income:       mapToRecords(s.Income),
		Transactions: mapToRecords(s.Transactions),
	}
}

// DecodeLedger parses a cached snapshot payload. It never fails: a missing
// or corrupt payload yields a default ledger, and stored settings are
// merged over the defaults so new settings keys pick up their default
// value on old cache files.
func DecodeLedger(raw []byte) *Ledger {
	if len(raw) == 0 {
		return NewLedger()
	}
	var p Ledger
	if err := json.Unmarshal(raw, &p); err != nil {
		return NewLedger()
	}
	return &Ledger{
		Settings:     DefaultSettings().Merge(p.Settings),
		FixedCosts:   orEmpty(p.FixedCosts),
		Loans:        orEmpty(p.Loans),
		Income:       orEmpty(p.Income),
		Transactions: orEmpty(p.Transactions),
	}
}

func recordsToMap(in []Record) map[string]Record {
	out := make(map[string]Record, len(in))
	for _, r := range in {
		if id := r.ID(); id != "" {
			out[id] = r.Clone()
		}
	}
	return out
}

func mapToRecords(in map[string]Record) []Record {
	out := make([]Record, 0, len(in))
	for _, r := range in {
		out = append(out, r.Clone())
	}
	// ISO-8601 strings sort lexicographically in chronological order.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt() < out[j].CreatedAt()
	})
	return out
}

func orEmpty(in []Record) []Record {
	if in == nil {
		return []Record{}
	}
	return in
}
