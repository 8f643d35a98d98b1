package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/PratikDhanave/paywall-attribution-service/internal/metrics"
)

// purchaseEventName is the backend's standard purchase event.
const purchaseEventName = "fb_mobile_purchase"

// ErrNoDeferredLink is returned when the backend has no match for this install.
var ErrNoDeferredLink = errors.New("no deferred app link")

// GraphConfig holds what GraphBackend needs to reach the activities endpoint.
type GraphConfig struct {
	BaseURL      string
	AppID        string
	AccessToken  string
	AdvertiserID string
	Timeout      time.Duration
	// FlushAttempts bounds delivery attempts per flush (at least 1).
	FlushAttempts uint64
	// FlushInterval is how often Run delivers the buffer.
	FlushInterval time.Duration
	// BatchSize buffered events wake Run before the interval elapses.
	BatchSize int
	// MaxBuffered caps the buffer; the oldest events are dropped past it.
	MaxBuffered int
}

type graphEvent struct {
	Name       string
	ValueToSum *float64
	LogTime    int64
	Params     map[string]string
}

func (e graphEvent) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Params)+3)
	for k, v := range e.Params {
		m[k] = v
	}
	m["_eventName"] = e.Name
	m["_logTime"] = e.LogTime
	if e.ValueToSum != nil {
		m["_valueToSum"] = *e.ValueToSum
	}
	return json.Marshal(m)
}

// GraphBackend implements SDK against the app activities HTTP endpoint.
// Logged events are buffered; Run delivers them on an interval or once a
// batch is full, Flush delivers them immediately.
type GraphBackend struct {
	cfg  GraphConfig
	http *http.Client
	log  *zap.Logger
	full chan struct{}

	mu           sync.Mutex
	autoLog      bool
	idCollection bool
	tracking     bool
	buf          []graphEvent
}

// NewGraphBackend returns a backend for cfg.
func NewGraphBackend(cfg GraphConfig, log *zap.Logger) *GraphBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FlushAttempts == 0 {
		cfg.FlushAttempts = 3
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBuffered < cfg.BatchSize {
		cfg.MaxBuffered = 10 * cfg.BatchSize
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GraphBackend{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.Named("graph"),
		full: make(chan struct{}, 1),
	}
}

// Run delivers buffered events every FlushInterval and whenever a batch
// fills, until ctx is done. Delivery failures are logged and dropped.
func (g *GraphBackend) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-g.full:
		}
		// A batch already taken from the buffer is delivered even if ctx ends.
		if err := g.Flush(context.WithoutCancel(ctx)); err != nil {
			g.log.Warn("scheduled flush failed", zap.Error(err))
		}
	}
}

func (g *GraphBackend) SetAutoLogAppEventsEnabled(enabled bool) {
	g.mu.Lock()
	g.autoLog = enabled
	g.mu.Unlock()
}

func (g *GraphBackend) SetAdvertiserIDCollectionEnabled(enabled bool) {
	g.mu.Lock()
	g.idCollection = enabled
	g.mu.Unlock()
}

func (g *GraphBackend) SetAdvertiserTrackingEnabled(enabled bool) {
	g.mu.Lock()
	g.tracking = enabled
	g.mu.Unlock()
}

// Settings reports the current flag values (auto log, id collection, tracking).
func (g *GraphBackend) Settings() (autoLog, idCollection, tracking bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.autoLog, g.idCollection, g.tracking
}

// Pending returns the number of buffered events.
func (g *GraphBackend) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buf)
}

func (g *GraphBackend) baseForm(event string) url.Values {
	g.mu.Lock()
	defer g.mu.Unlock()

	form := url.Values{}
	form.Set("event", event)
	form.Set("advertiser_tracking_enabled", boolFlag(g.tracking))
	form.Set("application_tracking_enabled", boolFlag(g.autoLog))
	if g.idCollection && g.tracking && g.cfg.AdvertiserID != "" {
		form.Set("advertiser_id", g.cfg.AdvertiserID)
	}
	if g.cfg.AccessToken != "" {
		form.Set("access_token", g.cfg.AccessToken)
	}
	return form
}

// FetchDeferredAppLink performs one lookup; it never retries.
func (g *GraphBackend) FetchDeferredAppLink(ctx context.Context) (string, error) {
	body, err := g.post(ctx, g.baseForm("DEFERRED_APP_LINK"))
	if err != nil {
		return "", err
	}

	for _, path := range []string{"data.0.applink_url", "data.0.target_url"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
			return v.String(), nil
		}
	}
	return "", ErrNoDeferredLink
}

func (g *GraphBackend) LogEvent(_ context.Context, name string, valueToSum *float64, params map[string]string) error {
	if name == "" {
		return errors.New("event name required")
	}
	g.append(graphEvent{Name: name, ValueToSum: valueToSum, Params: params})
	return nil
}

func (g *GraphBackend) LogPurchase(_ context.Context, amount float64, currency string, params map[string]string) error {
	if amount < 0 {
		return fmt.Errorf("negative purchase amount %v", amount)
	}
	p := make(map[string]string, len(params)+1)
	for k, v := range params {
		p[k] = v
	}
	p["fb_currency"] = currency
	g.append(graphEvent{Name: purchaseEventName, ValueToSum: &amount, Params: p})
	return nil
}

func (g *GraphBackend) append(ev graphEvent) {
	ev.LogTime = time.Now().Unix()

	g.mu.Lock()
	dropped := 0
	if over := len(g.buf) + 1 - g.cfg.MaxBuffered; over > 0 {
		dropped = over
		g.buf = append(g.buf[:0:0], g.buf[over:]...)
	}
	g.buf = append(g.buf, ev)
	full := len(g.buf) >= g.cfg.BatchSize
	g.mu.Unlock()

	if dropped > 0 {
		metrics.EventsDropped.Add(float64(dropped))
		g.log.Warn("event buffer full, oldest events dropped", zap.Int("dropped", dropped))
	}
	if full {
		select {
		case g.full <- struct{}{}:
		default:
		}
	}
}

// Flush posts every buffered event in one batch. The batch is dropped after
// the last failed attempt.
func (g *GraphBackend) Flush(ctx context.Context) error {
	g.mu.Lock()
	batch := g.buf
	g.buf = nil
	g.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	form := g.baseForm("CUSTOM_APP_EVENTS")
	form.Set("custom_events", string(payload))

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.cfg.FlushAttempts-1),
		ctx,
	)
	err = backoff.Retry(func() error {
		_, err := g.post(ctx, form)
		var se *statusError
		if errors.As(err, &se) && se.code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err != nil {
		return fmt.Errorf("flush %d events: %w", len(batch), err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return "activities endpoint returned " + strconv.Itoa(e.code) + ": " + e.body
}

func (g *GraphBackend) post(ctx context.Context, form url.Values) ([]byte, error) {
	endpoint := g.cfg.BaseURL + "/" + url.PathEscape(g.cfg.AppID) + "/activities"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, &statusError{code: resp.StatusCode, body: gjson.GetBytes(body, "error.message").String()}
	}
	return body, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
