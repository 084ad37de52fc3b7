// Package port defines the consumer-side interfaces between services and
// infrastructure, so services can be tested with hand-rolled fakes.
package port

import (
	"context"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
)

// KV is the durable on-device string-keyed storage primitive backing the
// local cache. Get returns ok=false when the key was never written.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// RemoteStore is the shared remote tree store. Put replaces the whole
// subtree under the configured root; Watch blocks, invoking fn with the
// subtree's current contents once on connect and again on every change,
// until ctx is cancelled or the stream breaks. A nil snapshot means the
// root holds no data yet.
type RemoteStore interface {
	Put(ctx context.Context, snap *domain.RemoteSnapshot) error
	Watch(ctx context.Context, fn func(*domain.RemoteSnapshot)) error
}

// Cache is a read-through cache for decoded snapshots.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// SnapshotPublisher accepts a snapshot for best-effort remote
// propagation. Publish never blocks and never fails the caller.
type SnapshotPublisher interface {
	Publish(l *domain.Ledger)
}

// SnapshotSink persists an incoming remote snapshot as the new local
// state (full replacement, no remote propagation) and returns the stored
// ledger.
type SnapshotSink interface {
	Replace(l *domain.Ledger) *domain.Ledger
}
