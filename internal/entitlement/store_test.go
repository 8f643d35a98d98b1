package entitlement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sourceFunc func(ctx context.Context) ([]string, error)

func (f sourceFunc) ActiveEntitlements(ctx context.Context) ([]string, error) { return f(ctx) }

func TestStore_StartsLoading(t *testing.T) {
	s, _ := NewStore(nil, zaptest.NewLogger(t))

	snap := s.Snapshot()
	assert.True(t, snap.IsLoading())
	assert.False(t, snap.IsSubscribed())
	assert.Equal(t, uint64(0), snap.Version)
}

func TestStore_PublishDerivesFlags(t *testing.T) {
	s, push := NewStore(nil, zaptest.NewLogger(t))

	push(ActiveWith("pro", "pro", ""))
	snap := s.Snapshot()
	assert.True(t, snap.IsSubscribed())
	assert.False(t, snap.IsLoading())
	assert.True(t, snap.Has("pro"))
	assert.Equal(t, []string{"pro"}, snap.Status.Entitlements)

	push(Status{Kind: Inactive, Entitlements: []string{"pro"}})
	snap = s.Snapshot()
	assert.False(t, snap.IsSubscribed())
	assert.False(t, snap.Has("pro"))
	assert.Equal(t, uint64(2), snap.Version)
}

func TestStore_SubscribeInOrder(t *testing.T) {
	s, push := NewStore(nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	push(ActiveWith("pro"))
	push(Status{Kind: Inactive})

	var kinds []Kind
	for i := 0; i < 3; i++ {
		snap := <-ch
		kinds = append(kinds, snap.Status.Kind)
	}
	assert.Equal(t, []Kind{Unknown, Active, Inactive}, kinds)

	cancel()
	for range ch {
	}
}

func TestStore_CheckEntitlementFailsClosed(t *testing.T) {
	src := sourceFunc(func(context.Context) ([]string, error) {
		return nil, errors.New("network down")
	})
	s, push := NewStore(src, zaptest.NewLogger(t))
	push(ActiveWith("pro"))

	for _, id := range []string{"pro", "", "anything"} {
		assert.False(t, s.CheckEntitlement(context.Background(), id))
	}
}

func TestStore_CheckEntitlement(t *testing.T) {
	src := sourceFunc(func(context.Context) ([]string, error) {
		return []string{"pro", "team"}, nil
	})
	s, _ := NewStore(src, zaptest.NewLogger(t))

	require.True(t, s.CheckEntitlement(context.Background(), "team"))
	require.False(t, s.CheckEntitlement(context.Background(), "enterprise"))
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, Active, ParseKind("active"))
	assert.Equal(t, Inactive, ParseKind("INACTIVE"))
	assert.Equal(t, Unknown, ParseKind("expired?"))
}
