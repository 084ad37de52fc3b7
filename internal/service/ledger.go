package service

import (
	"encoding/json"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/observability"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/port"

	"go.uber.org/zap"
)

// CacheKey is the fixed key the whole snapshot lives under in the local
// store. The v2 suffix marks the current payload shape.
const CacheKey = "finanze_cache_v2"

const snapshotCacheKey = "snapshot"

// LedgerService owns all local mutations: it reads the current snapshot,
// applies the change, persists to the local cache, and hands the new
// snapshot to the publisher for best-effort remote propagation. Local
// writes never fail because of the remote.
type LedgerService struct {
	kv        port.KV
	cache     port.Cache[*domain.Ledger]
	publisher port.SnapshotPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewLedgerService creates the ledger store. The publisher is attached
// separately because the sync channel needs the store as its ingest sink.
func NewLedgerService(kv port.KV, cache port.Cache[*domain.Ledger], metrics *observability.Metrics, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		kv:      kv,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// AttachPublisher wires the remote publisher. A nil publisher (sync not
// configured) leaves the service fully functional offline.
func (s *LedgerService) AttachPublisher(p port.SnapshotPublisher) {
	s.publisher = p
}

// Load returns the current snapshot. It never fails: an absent or corrupt
// cache payload yields a structurally valid default ledger.
func (s *LedgerService) Load() *domain.Ledger {
	if l, ok := s.cache.Get(snapshotCacheKey); ok {
		return l.Clone()
	}

	raw, ok, err := s.kv.Get(CacheKey)
	if err != nil {
		s.logger.Warn("local cache read failed, using defaults", zap.Error(err))
		return domain.NewLedger()
	}
	if !ok {
		return domain.NewLedger()
	}

	l := domain.DecodeLedger([]byte(raw))
	s.cache.Set(snapshotCacheKey, l.Clone())
	return l
}

// Add constructs a record from the partial payload, assigns identity and
// creation timestamp, appends it to the collection and persists.
func (s *LedgerService) Add(collection string, payload domain.Record) (domain.Record, error) {
	if err := validateRecord(collection, payload); err != nil {
		return nil, err
	}

	l := s.Load()
	col, _ := l.Collection(collection)

	rec := payload.Clone()
	rec[domain.FieldID] = domain.NewID()
	rec[domain.FieldCreatedAt] = domain.NowISO()
	*col = append(*col, rec)

	s.persist(l)
	s.metrics.IncrRecordWrite(collection, "add")
	s.logger.Debug("record added",
		zap.String("collection", collection),
		zap.String("id", rec.ID()),
	)
	return rec.Clone(), nil
}

// Update shallow-merges patch over the record with the given id and
// refreshes its updatedAt. A missing id is a silent no-op.
func (s *LedgerService) Update(collection string, id string, patch domain.Record) error {
	l := s.Load()
	col, ok := l.Collection(collection)
	if !ok {
		return &domain.ErrValidation{Field: "collection", Message: "unknown collection " + collection}
	}

	for i, rec := range *col {
		if rec.ID() == id {
			merged := rec.Clone()
			merged.Merge(patch)
			merged[domain.FieldUpdatedAt] = domain.NowISO()
			(*col)[i] = merged

			s.persist(l)
			s.metrics.IncrRecordWrite(collection, "update")
			return nil
		}
	}
	return nil
}

// Delete removes the record with the given id. A missing id leaves the
// collection unchanged; the snapshot is persisted either way.
func (s *LedgerService) Delete(collection string, id string) error {
	l := s.Load()
	col, ok := l.Collection(collection)
	if !ok {
		return &domain.ErrValidation{Field: "collection", Message: "unknown collection " + collection}
	}

	kept := (*col)[:0]
	for _, rec := range *col {
		if rec.ID() != id {
			kept = append(kept, rec)
		}
	}
	*col = kept

	s.persist(l)
	s.metrics.IncrRecordWrite(collection, "delete")
	return nil
}

// SaveSettings shallow-merges patch over the current settings and persists.
func (s *LedgerService) SaveSettings(patch domain.Settings) *domain.Ledger {
	l := s.Load()
	l.Settings = l.Settings.Merge(patch)
	s.persist(l)
	return l
}

// Reset restores the default empty ledger and propagates it.
func (s *LedgerService) Reset() *domain.Ledger {
	l := domain.NewLedger()
	s.persist(l)
	return l
}

// Commit persists an externally assembled ledger (bulk import) and
// propagates it like any local mutation.
func (s *LedgerService) Commit(l *domain.Ledger) *domain.Ledger {
	s.persist(l)
	return l
}

// Replace persists an incoming remote snapshot as the new local state.
// It deliberately does not publish: echoing an ingested snapshot back to
// the remote would loop.
func (s *LedgerService) Replace(l *domain.Ledger) *domain.Ledger {
	s.writeLocal(l)
	return l
}

// persist is the full write cycle: local cache first, then fire-and-forget
// remote propagation.
func (s *LedgerService) persist(l *domain.Ledger) {
	s.writeLocal(l)
	if s.publisher != nil {
		s.publisher.Publish(l.Clone())
	}
}

func (s *LedgerService) writeLocal(l *domain.Ledger) {
	raw, err := json.Marshal(l)
	if err != nil {
		// Records are plain JSON scalars; this cannot happen with data
		// that came through the API.
		s.logger.Error("snapshot encode failed", zap.Error(err))
		return
	}
	if err := s.kv.Set(CacheKey, string(raw)); err != nil {
		s.logger.Warn("local cache write failed", zap.Error(err))
	}
	s.cache.Set(snapshotCacheKey, l.Clone())
}

// validateRecord enforces the minimal required pair at the edit boundary:
// a name (or description) and a numeric amount.
func validateRecord(collection string, payload domain.Record) error {
	nameField := domain.FieldName
	switch collection {
	case domain.CollectionFixedCosts, domain.CollectionLoans:
	case domain.CollectionIncome, domain.CollectionTransactions:
		nameField = domain.FieldDescription
	default:
		return &domain.ErrValidation{Field: "collection", Message: "unknown collection " + collection}
	}

	if payload.Str(nameField) == "" {
		return &domain.ErrValidation{Field: nameField, Message: "required"}
	}
	if _, ok := payload.FloatOK(domain.FieldAmount); !ok {
		return &domain.ErrValidation{Field: domain.FieldAmount, Message: "must be numeric"}
	}
	return nil
}
