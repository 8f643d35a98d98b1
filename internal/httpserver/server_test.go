package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PratikDhanave/paywall-attribution-service/internal/attribution"
	"github.com/PratikDhanave/paywall-attribution-service/internal/config"
	"github.com/PratikDhanave/paywall-attribution-service/internal/entitlement"
	"github.com/PratikDhanave/paywall-attribution-service/internal/handlers"
	"github.com/PratikDhanave/paywall-attribution-service/internal/launch"
	"github.com/PratikDhanave/paywall-attribution-service/internal/navigation"
	"github.com/PratikDhanave/paywall-attribution-service/internal/paywall"
)

const testKey = "client-key-123"

////////////////////////////////////////////////////////////////////////////////
// FAKES
////////////////////////////////////////////////////////////////////////////////

type launchState struct{ view launch.View }

func (l launchState) Current() launch.View { return l.view }

type placementService struct{}

func (placementService) RegisterPlacement(context.Context, paywall.PlacementRequest, string) error {
	return nil
}

type emitter struct {
	mu     sync.Mutex
	events []attribution.Event
}

func (e *emitter) Emit(_ context.Context, ev attribution.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *emitter) TrackRegistration(ctx context.Context) { e.Emit(ctx, attribution.RegistrationCompleted()) }
func (e *emitter) Flush(context.Context)                 {}

func (e *emitter) kinds() []attribution.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []attribution.Kind
	for _, ev := range e.events {
		out = append(out, ev.Kind)
	}
	return out
}

type journal struct {
	pingErr error
	counts  map[string]int64
}

func (j journal) Ping(context.Context) error { return j.pingErr }

func (j journal) CountEvents(_ context.Context, kind string, _, _ time.Time) (int64, error) {
	return j.counts[kind], nil
}

type entitlementSource struct{}

func (entitlementSource) ActiveEntitlements(context.Context) ([]string, error) {
	return []string{"pro"}, nil
}

type harness struct {
	srv  *httptest.Server
	em   *emitter
	ctrl *paywall.Controller
	nav  *navigation.Router
}

func newHarness(t *testing.T, phase launch.Phase, j Journal) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)

	store, push := entitlement.NewStore(entitlementSource{}, log)
	nav := navigation.NewRouter(store, time.Hour, log)
	em := &emitter{}
	ctrl := paywall.NewController(placementService{}, em, nav, push, paywall.Config{}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ctrl.Run(ctx)
		close(done)
	}()

	cfg := config.Config{APIKeys: map[string]string{testKey: "app"}}
	r := NewRouter(cfg, Deps{
		Events: ctrl,
		App: handlers.AppDeps{
			Launch:       launchState{view: launch.View{Phase: phase}},
			Subscription: store,
			Placements:   ctrl,
			Attribution:  em,
			Navigation:   nav,
		},
		Journal: j,
		Log:     log,
	})
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		nav.Close()
	})
	return &harness{srv: srv, em: em, ctrl: ctrl, nav: nav}
}

////////////////////////////////////////////////////////////////////////////////
// GENERIC HTTP HELPERS
////////////////////////////////////////////////////////////////////////////////

func (h *harness) get(t *testing.T, apiKey, path string) (int, []byte) {
	t.Helper()

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func (h *harness) post(t *testing.T, apiKey, path string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+path, body)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

////////////////////////////////////////////////////////////////////////////////
// HEALTH & READINESS
////////////////////////////////////////////////////////////////////////////////

func TestHealth_ReturnsOK(t *testing.T) {
	h := newHarness(t, launch.Loading, nil)
	s, _ := h.get(t, "", "/health")
	assert.Equal(t, http.StatusOK, s)
}

func TestReady_FollowsLaunchPhase(t *testing.T) {
	s, _ := newHarness(t, launch.Loading, nil).get(t, "", "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, s)

	s, _ = newHarness(t, launch.Ready, nil).get(t, "", "/ready")
	assert.Equal(t, http.StatusOK, s)

	s, _ = newHarness(t, launch.Ready, journal{pingErr: errors.New("db down")}).get(t, "", "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, s)
}

func TestMetrics_Exposed(t *testing.T) {
	h := newHarness(t, launch.Ready, nil)
	h.post(t, testKey, "/paywall/events", map[string]any{"type": "paywall_skip", "reason": "holdout"})

	assert.Eventually(t, func() bool {
		s, b := h.get(t, "", "/metrics")
		return s == http.StatusOK && strings.Contains(string(b), `paywall_activation_outcomes_total{state="skipped"}`)
	}, time.Second, 5*time.Millisecond)
}

////////////////////////////////////////////////////////////////////////////////
// PAYWALL FEED
////////////////////////////////////////////////////////////////////////////////

func TestEvents_UnauthorizedWithoutAPIKey(t *testing.T) {
	h := newHarness(t, launch.Ready, nil)
	s, _ := h.post(t, "", "/paywall/events", map[string]any{"type": "will_redeem_link"})
	assert.Equal(t, http.StatusUnauthorized, s)
}

func TestEvents_BadRequestOnInvalidPayload(t *testing.T) {
	h := newHarness(t, launch.Ready, nil)

	for _, p := range []map[string]any{
		{},
		{"type": "teleport"},
		{"type": "paywall_dismiss"},
		{"type": "did_redeem_link"},
		{"type": "paywall_will_open_url"},
	} {
		s, _ := h.post(t, testKey, "/paywall/events", p)
		assert.Equal(t, http.StatusBadRequest, s, p)
	}
}

func TestEvents_PresentAndCheckout(t *testing.T) {
	h := newHarness(t, launch.Ready, nil)

	s, b := h.post(t, testKey, "/placements", map[string]any{"placement": "campaign_trigger"})
	require.Equal(t, http.StatusCreated, s, string(b))
	resp := decode[map[string]string](t, b)
	id := resp["activation_id"]
	require.NotEmpty(t, id)
	assert.Equal(t, "app", resp["client_id"])

	s, _ = h.post(t, testKey, "/paywall/events", map[string]any{
		"type": "paywall_present", "activation_id": id, "paywall_name": "paywall_A",
	})
	assert.Equal(t, http.StatusAccepted, s)
	h.post(t, testKey, "/paywall/events", map[string]any{
		"type": "paywall_will_open_url", "activation_id": id, "url": "https://checkout.stripe.com/abc",
	})
	h.post(t, testKey, "/paywall/events", map[string]any{
		"type": "paywall_will_open_url", "url": "https://example.com",
	})

	assert.Eventually(t, func() bool { return len(h.em.kinds()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []attribution.Kind{attribution.KindPaywallView, attribution.KindCheckoutInitiated}, h.em.kinds())
}

func TestEvents_RedeemNavigatesOnce(t *testing.T) {
	h := newHarness(t, launch.Ready, nil)

	s, b := h.post(t, testKey, "/placements", map[string]any{"placement": "campaign_trigger"})
	require.Equal(t, http.StatusCreated, s)
	id := decode[map[string]string](t, b)["activation_id"]

	h.post(t, testKey, "/paywall/events", map[string]any{
		"type": "did_redeem_link", "redemption": map[string]any{"status": "SUCCESS"},
	})
	h.post(t, testKey, "/paywall/events", map[string]any{
		"type": "paywall_dismiss", "activation_id": id, "result": map[string]any{"type": "purchased"},
	})

	assert.Eventually(t, func() bool {
		act, _ := h.ctrl.Activation(id)
		return act.State == paywall.StatePurchased
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []attribution.Kind{attribution.KindPurchase}, h.em.kinds())
	assert.Equal(t, []navigation.Destination{navigation.Main, navigation.Success}, h.nav.History())
}

func TestEvents_StatusChangeDrivesGate(t *testing.T) {
	h := newHarness(t, launch.Ready, nil)

	s, b := h.get(t, testKey, "/gate")
	require.Equal(t, http.StatusOK, s)
	assert.Equal(t, "waiting", decode[map[string]string](t, b)["kind"])

	h.post(t, testKey, "/paywall/events", map[string]any{
		"type": "subscription_status_change", "subscription": map[string]any{"status": "ACTIVE", "entitlements": []string{"pro"}},
	})
	assert.Eventually(t, func() bool {
		_, b := h.get(t, testKey, "/gate")
		return decode[map[string]string](t, b)["kind"] == "protected"
	}, time.Second, 5*time.Millisecond)

	s, b = h.get(t, testKey, "/subscription")
	require.Equal(t, http.StatusOK, s)
	sub := decode[map[string]any](t, b)
	assert.Equal(t, "ACTIVE", sub["status"])
	assert.Equal(t, true, sub["is_subscribed"])

	h.post(t, testKey, "/paywall/events", map[string]any{
		"type": "subscription_status_change", "subscription": map[string]any{"status": "INACTIVE"},
	})
	assert.Eventually(t, func() bool {
		_, b := h.get(t, testKey, "/gate?placement=export_pdf")
		v := decode[map[string]string](t, b)
		return v["kind"] == "upsell" && v["placement"] == "export_pdf"
	}, time.Second, 5*time.Millisecond)

	_, b = h.get(t, testKey, "/gate?fallback=true")
	assert.Equal(t, "fallback", decode[map[string]string](t, b)["kind"])
}

////////////////////////////////////////////////////////////////////////////////
// APP ROUTES
////////////////////////////////////////////////////////////////////////////////

func TestApp_LaunchAndEntitlements(t *testing.T) {
	h := newHarness(t, launch.Ready, nil)

	s, b := h.get(t, testKey, "/launch")
	require.Equal(t, http.StatusOK, s)
	assert.Equal(t, "ready", decode[map[string]any](t, b)["phase"])

	_, b = h.get(t, testKey, "/entitlements/pro")
	assert.Equal(t, true, decode[map[string]any](t, b)["active"])
	_, b = h.get(t, testKey, "/entitlements/team")
	assert.Equal(t, false, decode[map[string]any](t, b)["active"])
}

func TestApp_UnlockAndAttribution(t *testing.T) {
	h := newHarness(t, launch.Ready, nil)

	s, b := h.post(t, testKey, "/gate/unlock", nil)
	require.Equal(t, http.StatusCreated, s, string(b))
	id := decode[map[string]string](t, b)["activation_id"]
	act, ok := h.ctrl.Activation(id)
	require.True(t, ok)
	assert.Equal(t, "premium_feature", act.Placement)

	s, _ = h.post(t, testKey, "/attribution/registration", nil)
	assert.Equal(t, http.StatusAccepted, s)
	assert.Equal(t, []attribution.Kind{attribution.KindRegistrationCompleted}, h.em.kinds())

	s, _ = h.post(t, testKey, "/navigation/menu", nil)
	assert.Equal(t, http.StatusOK, s)
	_, b = h.get(t, testKey, "/navigation")
	assert.Equal(t, "menu", decode[map[string]any](t, b)["current"])
}

func TestCount_RequiresJournalAndWindow(t *testing.T) {
	s, _ := newHarness(t, launch.Ready, nil).get(t, testKey, "/commerce-events/count")
	assert.Equal(t, http.StatusNotFound, s)

	h := newHarness(t, launch.Ready, journal{counts: map[string]int64{"purchase": 2}})

	s, _ = h.get(t, testKey, "/commerce-events/count?kind=purchase")
	assert.Equal(t, http.StatusBadRequest, s)

	now := time.Now().UTC()
	q := url.Values{}
	q.Set("kind", "purchase")
	q.Set("from", now.Add(-time.Hour).Format(time.RFC3339))
	q.Set("to", now.Add(time.Hour).Format(time.RFC3339))
	s, b := h.get(t, testKey, "/commerce-events/count?"+q.Encode())
	require.Equal(t, http.StatusOK, s)
	assert.Equal(t, float64(2), decode[map[string]any](t, b)["count"])
}
