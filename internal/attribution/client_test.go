package attribution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PratikDhanave/paywall-attribution-service/internal/consent"
)

type loggedEvent struct {
	name   string
	value  *float64
	params map[string]string
}

type fakeSDK struct {
	mu sync.Mutex

	autoLog, idCollection, tracking bool
	settingCalls                    int

	link    string
	linkErr error
	fetches int

	events  []loggedEvent
	logErr  error
	flushes int
}

func (f *fakeSDK) SetAutoLogAppEventsEnabled(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoLog = b
	f.settingCalls++
}

func (f *fakeSDK) SetAdvertiserIDCollectionEnabled(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCollection = b
	f.settingCalls++
}

func (f *fakeSDK) SetAdvertiserTrackingEnabled(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracking = b
	f.settingCalls++
}

func (f *fakeSDK) FetchDeferredAppLink(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.link, f.linkErr
}

func (f *fakeSDK) LogEvent(_ context.Context, name string, v *float64, p map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return f.logErr
	}
	f.events = append(f.events, loggedEvent{name: name, value: v, params: p})
	return nil
}

func (f *fakeSDK) LogPurchase(_ context.Context, amount float64, currency string, p map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return f.logErr
	}
	cp := map[string]string{"currency": currency}
	for k, v := range p {
		cp[k] = v
	}
	f.events = append(f.events, loggedEvent{name: "purchase", value: &amount, params: cp})
	return nil
}

func (f *fakeSDK) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

type memJournal struct {
	mu    sync.Mutex
	ids   map[string]Event
	delay time.Duration
}

func (j *memJournal) RecordEvent(_ context.Context, ev Event) (bool, error) {
	time.Sleep(j.delay)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ids == nil {
		j.ids = map[string]Event{}
	}
	if _, ok := j.ids[ev.ID]; ok {
		return false, nil
	}
	j.ids[ev.ID] = ev
	return true, nil
}

func TestInit_FlagsFollowConsent(t *testing.T) {
	cases := []struct {
		status consent.Status
		allow  bool
	}{
		{consent.Granted, true},
		{consent.Denied, false},
		{consent.Restricted, false},
		{consent.NotDetermined, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			sdk := &fakeSDK{linkErr: errors.New("no match")}
			c := NewClient(sdk, zaptest.NewLogger(t))

			c.Init(tc.status)

			assert.True(t, sdk.autoLog)
			assert.Equal(t, tc.allow, sdk.idCollection)
			assert.Equal(t, tc.allow, sdk.tracking)
			assert.Equal(t, "", c.FetchDeferredLink(context.Background()))
			assert.Equal(t, 1, sdk.fetches)
		})
	}
}

func TestInit_Idempotent(t *testing.T) {
	sdk := &fakeSDK{}
	c := NewClient(sdk, zaptest.NewLogger(t))

	c.Init(consent.Granted)
	c.Init(consent.Denied)
	c.Init(consent.Granted)

	assert.Equal(t, 3, sdk.settingCalls)
	assert.True(t, sdk.tracking)
	assert.True(t, c.Initialized())
}

func TestFetchDeferredLink(t *testing.T) {
	sdk := &fakeSDK{link: "https://app.example/open?fbclid=abc"}
	c := NewClient(sdk, zaptest.NewLogger(t))

	assert.Equal(t, "https://app.example/open?fbclid=abc", c.FetchDeferredLink(context.Background()))

	sdk.link = ""
	assert.Equal(t, "", c.FetchDeferredLink(context.Background()))
}

func TestEmit_DroppedBeforeInit(t *testing.T) {
	sdk := &fakeSDK{}
	c := NewClient(sdk, zaptest.NewLogger(t))

	c.TrackRegistration(context.Background())

	assert.Empty(t, sdk.events)
}

func TestEmit_MapsEvents(t *testing.T) {
	sdk := &fakeSDK{}
	c := NewClient(sdk, zaptest.NewLogger(t))
	c.Init(consent.Granted)
	ctx := context.Background()

	c.TrackPaywallView(ctx, "act-1", "")
	c.TrackCheckout(ctx, "act-1", nil)
	c.TrackPurchase(ctx, "act-1", "pro_monthly", &Price{Amount: 9.99, Currency: "EUR"})
	c.TrackPurchase(ctx, "act-2", "", nil)
	c.TrackTrial(ctx, "act-1", nil)
	c.TrackRegistration(ctx)

	require.Len(t, sdk.events, 6)

	assert.Equal(t, EventViewContent, sdk.events[0].name)
	assert.Equal(t, "paywall", sdk.events[0].params["content_id"])

	assert.Equal(t, EventInitiatedCheckout, sdk.events[1].name)
	assert.Equal(t, 0.0, *sdk.events[1].value)
	assert.Equal(t, "USD", sdk.events[1].params["currency"])

	assert.Equal(t, 9.99, *sdk.events[2].value)
	assert.Equal(t, "EUR", sdk.events[2].params["currency"])
	assert.Equal(t, "pro_monthly", sdk.events[2].params["content_id"])
	assert.Equal(t, "true", sdk.events[2].params["price_known"])

	assert.Equal(t, "subscription", sdk.events[3].params["content_id"])
	assert.Equal(t, "false", sdk.events[3].params["price_known"])

	assert.Equal(t, EventStartTrial, sdk.events[4].name)
	assert.Equal(t, EventCompleteRegistration, sdk.events[5].name)
}

func TestEmit_FailureIsSwallowed(t *testing.T) {
	sdk := &fakeSDK{logErr: errors.New("buffer full")}
	j := &memJournal{}
	c := NewClient(sdk, zaptest.NewLogger(t), WithJournal(j))
	c.Init(consent.Denied)

	assert.NotPanics(t, func() { c.TrackPaywallView(context.Background(), "a", "p") })
	c.Flush(context.Background())
	assert.Empty(t, j.ids)
}

func TestEmit_JournalKeysPurchaseByActivation(t *testing.T) {
	sdk := &fakeSDK{}
	j := &memJournal{}
	c := NewClient(sdk, zaptest.NewLogger(t), WithJournal(j))
	c.Init(consent.Granted)

	c.TrackPurchase(context.Background(), "act-9", "", nil)
	c.TrackPurchase(context.Background(), "act-9", "", nil)
	c.Flush(context.Background())

	assert.Len(t, j.ids, 1)
	assert.Contains(t, j.ids, "purchase:act-9")
	assert.Equal(t, 1, sdk.flushes)
}

func TestFlush_ConcurrentWithEmit(t *testing.T) {
	sdk := &fakeSDK{}
	j := &memJournal{delay: time.Millisecond}
	c := NewClient(sdk, zaptest.NewLogger(t), WithJournal(j))
	c.Init(consent.Granted)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 25; n++ {
				c.TrackPurchase(ctx, fmt.Sprintf("act-%d-%d", i, n), "", nil)
			}
		}(i)
		go func() {
			defer wg.Done()
			for n := 0; n < 10; n++ {
				c.Flush(ctx)
			}
		}()
	}
	wg.Wait()
	c.Flush(ctx)

	j.mu.Lock()
	defer j.mu.Unlock()
	assert.Len(t, j.ids, 100)
}
