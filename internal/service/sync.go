package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/observability"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/resilience"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var syncTracer = otel.Tracer("service/sync")

// Connectivity states. There is no intermediate "connecting": the signal
// is informational and never gates local reads or writes.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// SyncService is the remote sync channel. Outbound, it runs a background
// publisher fed by a coalescing latest-wins slot: a mutation hands over
// its snapshot and returns immediately, and a burst of mutations may be
// collapsed into one push of the final state. Inbound, it holds at most
// one live subscription to the remote change stream; every delivered
// snapshot fully replaces the local cache (last-writer-wins) and triggers
// the consumer callback.
//
// A local write racing a remote arrival can be overwritten if the remote
// write landed later. That inconsistency window is part of the
// consistency model, not a bug: availability wins over consistency in a
// two-user household.
type SyncService struct {
	remote  port.RemoteStore
	sink    port.SnapshotSink
	cfg     resilience.Config
	metrics *observability.Metrics
	logger  *zap.Logger

	// device tags log lines and the status endpoint so the two household
	// devices can be told apart.
	device string

	pending chan *domain.Ledger
	online  atomic.Bool

	mu          sync.Mutex
	cancelWatch context.CancelFunc
	onChange    func(*domain.Ledger)
}

// NewSyncService creates the sync channel. sink receives ingested remote
// snapshots (full local replacement). device is the configured device
// name; when empty a random id is generated so log lines stay tellable
// apart anyway.
func NewSyncService(remote port.RemoteStore, sink port.SnapshotSink, cfg resilience.Config, device string, metrics *observability.Metrics, logger *zap.Logger) *SyncService {
	if device == "" {
		device = uuid.New().String()
	}
	return &SyncService{
		remote:  remote,
		sink:    sink,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		device:  device,
		pending: make(chan *domain.Ledger, 1),
	}
}

// Publish queues a snapshot for remote propagation. It never blocks and
// never reports failure to the caller: if a snapshot is already queued it
// is superseded, and transport failures only downgrade the connectivity
// status. The local write has already succeeded by the time this runs.
func (s *SyncService) Publish(l *domain.Ledger) {
	for {
		select {
		case s.pending <- l:
			return
		default:
		}
		select {
		case <-s.pending: // drop the superseded snapshot
		default:
		}
	}
}

// Run consumes the publish queue until ctx is cancelled. It is the only
// goroutine talking to the remote store outbound.
func (s *SyncService) Run(ctx context.Context) error {
	s.logger.Info("sync publisher started", zap.String("device", s.device))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l := <-s.pending:
			s.push(ctx, l)
		}
	}
}

func (s *SyncService) push(ctx context.Context, l *domain.Ledger) {
	ctx, span := syncTracer.Start(ctx, "Sync.Push")
	defer span.End()
	span.SetAttributes(attribute.String("device.name", s.device))

	if err := s.remote.Put(ctx, domain.ToRemote(l)); err != nil {
		s.logger.Warn("remote push failed", zap.Error(err))
		s.metrics.IncrPush("error")
		s.setOnline(false)
		return
	}
	s.metrics.IncrPush("ok")
	s.setOnline(true)
}

// Subscribe registers onChange as the consumer callback and starts the
// remote change stream. Any prior subscription is torn down first, so
// listeners never accumulate. The stream reconnects with backoff until
// Unsubscribe or process shutdown.
func (s *SyncService) Subscribe(ctx context.Context, onChange func(*domain.Ledger)) {
	s.mu.Lock()
	if s.cancelWatch != nil {
		s.cancelWatch()
	}
	watchCtx, cancel := context.WithCancel(ctx)
	s.cancelWatch = cancel
	s.onChange = onChange
	s.mu.Unlock()

	go s.watchLoop(watchCtx)
}

// Unsubscribe detaches the active listener. It is idempotent and safe to
// call from within a pending callback.
func (s *SyncService) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelWatch != nil {
		s.cancelWatch()
		s.cancelWatch = nil
	}
	s.onChange = nil
}

// Device returns the name this instance reports in logs and on the
// status endpoint.
func (s *SyncService) Device() string {
	return s.device
}

// Status returns the current two-valued connectivity signal.
func (s *SyncService) Status() string {
	if s.online.Load() {
		return StatusOnline
	}
	return StatusOffline
}

func (s *SyncService) watchLoop(ctx context.Context) {
	for ctx.Err() == nil {
		err := resilience.RetryWithBackoff(ctx, s.cfg, func() error {
			return s.remote.Watch(ctx, func(snap *domain.RemoteSnapshot) {
				s.ingest(snap)
			})
		})
		if ctx.Err() != nil {
			return
		}
		s.setOnline(false)
		s.logger.Warn("remote subscription lost, reconnecting", zap.Error(err))
	}
}

// ingest handles one remote snapshot: full local replacement, then the
// consumer callback with the stored ledger. An empty snapshot means
// nothing has been written remotely yet and produces no callback.
func (s *SyncService) ingest(snap *domain.RemoteSnapshot) {
	s.setOnline(true)

	if snap.IsEmpty() {
		return
	}

	l := s.sink.Replace(domain.FromRemote(snap))
	s.metrics.IncrSnapshotReceived()
	s.logger.Debug("remote snapshot ingested",
		zap.Int(domain.CollectionFixedCosts, len(l.FixedCosts)),
		zap.Int(domain.CollectionLoans, len(l.Loans)),
		zap.Int(domain.CollectionIncome, len(l.Income)),
		zap.Int(domain.CollectionTransactions, len(l.Transactions)),
	)

	s.mu.Lock()
	cb := s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb(l)
	}
}

func (s *SyncService) setOnline(online bool) {
	if s.online.Swap(online) != online {
		s.metrics.SetOnline(online)
		s.logger.Info("connectivity changed", zap.String("status", s.Status()))
	}
}
