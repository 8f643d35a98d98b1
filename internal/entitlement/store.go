package entitlement

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Kind is the coarse subscription state reported by the paywall service.
type Kind string

const (
	Unknown  Kind = "UNKNOWN"
	Active   Kind = "ACTIVE"
	Inactive Kind = "INACTIVE"
)

// ParseKind maps the service's status string. Anything unrecognised is Unknown.
func ParseKind(s string) Kind {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case Active:
		return Active
	case Inactive:
		return Inactive
	default:
		return Unknown
	}
}

// Status is the subscription status projection. Entitlements is only
// meaningful when Kind is Active.
type Status struct {
	Kind         Kind
	Entitlements []string
}

// ActiveWith builds an Active status holding the given entitlement ids.
func ActiveWith(ids ...string) Status {
	return Status{Kind: Active, Entitlements: normalize(ids)}
}

func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot is an immutable view of the cell at one version.
type Snapshot struct {
	Version uint64
	Status  Status
}

func (s Snapshot) IsSubscribed() bool { return s.Status.Kind == Active }
func (s Snapshot) IsLoading() bool    { return s.Status.Kind == Unknown }

// Has reports whether the snapshot lists entitlement id.
func (s Snapshot) Has(id string) bool {
	if !s.IsSubscribed() {
		return false
	}
	for _, e := range s.Status.Entitlements {
		if e == id {
			return true
		}
	}
	return false
}

// Source is the upstream entitlement list.
type Source interface {
	ActiveEntitlements(ctx context.Context) ([]string, error)
}

// Publisher writes upstream status pushes into the store. It is the only
// writer.
type Publisher func(Status) Snapshot

// Reader is the read-only surface handed to consumers of the store.
type Reader interface {
	Snapshot() Snapshot
	Subscribe(ctx context.Context) <-chan Snapshot
	CheckEntitlement(ctx context.Context, id string) bool
}

const subscriberBuffer = 16

// Store is a single versioned cell holding the subscription status.
type Store struct {
	src Source
	log *zap.Logger

	mu   sync.RWMutex
	snap Snapshot
	subs map[chan Snapshot]struct{}
}

// NewStore returns the read side and its publisher. The cell starts Unknown.
func NewStore(src Source, log *zap.Logger) (*Store, Publisher) {
	s := &Store{
		src:  src,
		log:  log.Named("entitlement"),
		snap: Snapshot{Status: Status{Kind: Unknown}},
		subs: make(map[chan Snapshot]struct{}),
	}
	return s, s.publish
}

// Snapshot returns the current value.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Store) publish(st Status) Snapshot {
	st.Entitlements = normalize(st.Entitlements)
	if st.Kind != Active {
		st.Entitlements = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = Snapshot{Version: s.snap.Version + 1, Status: st}
	for ch := range s.subs {
		deliver(ch, s.snap)
	}

	s.log.Info("subscription status changed",
		zap.String("status", string(st.Kind)),
		zap.Uint64("version", s.snap.Version))
	return s.snap
}

// deliver never blocks: a full subscriber loses its oldest pending snapshot.
func deliver(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe delivers the current snapshot followed by every later one, in
// version order, until ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)

	s.mu.Lock()
	ch <- s.snap
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// CheckEntitlement asks the upstream for the live entitlement list. Any
// failure is reported as not entitled.
func (s *Store) CheckEntitlement(ctx context.Context, id string) bool {
	if s.src == nil {
		return false
	}
	ids, err := s.src.ActiveEntitlements(ctx)
	if err != nil {
		s.log.Warn("entitlement lookup failed", zap.String("entitlement", id), zap.Error(err))
		return false
	}
	for _, e := range ids {
		if e == id {
			return true
		}
	}
	return false
}
