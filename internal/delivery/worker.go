// Package delivery runs the outbound delivery worker: it claims queued
// Delivery rows from the store, signs and POSTs each one to its destination
// inbox, and feeds the result back as success or backoff-scheduled failure.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/klppl/fedid/internal/config"
	"github.com/klppl/fedid/internal/sig"
	"github.com/klppl/fedid/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// concurrency bounds how many deliveries are in flight at once, matching the
// teacher's fixed fan-out semaphore but sized for a claimed batch rather than
// a single activity's recipient set.
const concurrency = 10

var (
	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedid_deliveries_total",
		Help: "Outbound delivery attempts by terminal outcome.",
	}, []string{"outcome"})
	deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fedid_delivery_duration_seconds",
		Help:    "Time spent POSTing a single activity to a single inbox.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(deliveriesTotal, deliveryDuration)
}

// Worker polls the delivery queue and drives outbound HTTP delivery.
type Worker struct {
	Store  *store.Store
	Config *config.Config

	client   *http.Client
	limiters sync.Map // origin host -> *rate.Limiter
}

// New constructs a delivery worker using the configured timeout as the
// per-request HTTP deadline.
func New(st *store.Store, cfg *config.Config) *Worker {
	return &Worker{
		Store:  st,
		Config: cfg,
		client: &http.Client{Timeout: cfg.DeliveryTimeout},
	}
}

// Run polls the queue on a fixed interval until ctx is cancelled, claiming
// and delivering one batch per tick. It also listens on the delivery-queued
// notification channel to wake immediately rather than waiting for the next
// tick when fresh work arrives.
func (w *Worker) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	wake := w.Store.Listen(store.ChannelDeliveryQueued)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		case <-wake:
			w.runOnce(ctx)
		}
	}
}

// runOnce claims and delivers a single batch, bounded to `concurrency`
// in-flight POSTs.
func (w *Worker) runOnce(ctx context.Context) {
	claimed, err := w.Store.ClaimDeliveries(concurrency, w.keyIDFor)
	if err != nil {
		slog.Error("claim deliveries failed", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for _, pd := range claimed {
		sem <- struct{}{}
		wg.Add(1)
		go func(pd store.PendingDelivery) {
			defer func() { <-sem; wg.Done() }()
			w.deliverOne(ctx, pd)
		}(pd)
	}
	wg.Wait()
}

// keyIDFor resolves the signing key for a locally originated activity's
// actor, the callback ClaimDeliveries uses to attach signing material to
// each claimed row without the store package depending on crypto types.
func (w *Worker) keyIDFor(activityActorURI string) (keyID, privPEM string, err error) {
	actor, err := w.Store.GetActorByURI(activityActorURI)
	if err != nil {
		return "", "", err
	}
	if actor == nil {
		return "", "", fmt.Errorf("no local actor for %s", activityActorURI)
	}
	kp, err := w.Store.GetKeyPair(actor.ID)
	if err != nil {
		return "", "", err
	}
	if kp == nil || kp.PrivateKeyPEM == "" {
		return "", "", fmt.Errorf("no private key for %s", activityActorURI)
	}
	return kp.KeyID, kp.PrivateKeyPEM, nil
}

// limiterFor returns the per-destination-origin rate limiter, creating one
// on first use. A steady 5 req/s with a small burst keeps one slow or
// rate-limiting remote instance from starving delivery of every other peer.
func (w *Worker) limiterFor(host string) *rate.Limiter {
	if v, ok := w.limiters.Load(host); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(5), 10)
	actual, _ := w.limiters.LoadOrStore(host, lim)
	return actual.(*rate.Limiter)
}

func (w *Worker) deliverOne(ctx context.Context, pd store.PendingDelivery) {
	start := time.Now()
	statusCode, err := w.post(ctx, pd)
	deliveryDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		deliveriesTotal.WithLabelValues("delivered").Inc()
		if err := w.Store.DeliverySuccess(pd.Delivery.ID, statusCode); err != nil {
			slog.Error("record delivery success failed", "delivery_id", pd.Delivery.ID, "error", err)
		}
		return
	}

	slog.Warn("delivery failed", "delivery_id", pd.Delivery.ID, "inbox", pd.Delivery.InboxURI, "error", err)
	if ferr := w.Store.DeliveryFailure(pd.Delivery.ID, w.Config.MaxDeliveryAttempts, statusCode, err.Error()); ferr != nil {
		slog.Error("record delivery failure failed", "delivery_id", pd.Delivery.ID, "error", ferr)
	}
	if pd.Delivery.Attempts+1 >= w.Config.MaxDeliveryAttempts {
		deliveriesTotal.WithLabelValues("expired").Inc()
	} else {
		deliveriesTotal.WithLabelValues("retry").Inc()
	}
}

func (w *Worker) post(ctx context.Context, pd store.PendingDelivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pd.Delivery.InboxURI, bytes.NewReader(pd.ActivityJSON))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if err := w.limiterFor(req.URL.Host).Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	priv, err := sig.DecodePrivatePEM(pd.PrivateKeyPEM)
	if err != nil {
		return 0, fmt.Errorf("decode signing key: %w", err)
	}
	kp := &sig.KeyPair{Private: priv, Public: &priv.PublicKey}
	date := time.Now().UTC().Format(http.TimeFormat)

	signature, digest, err := sig.BuildSignatureHeader(pd.SenderKeyID, kp, http.MethodPost, pd.Delivery.InboxURI, date, pd.ActivityJSON)
	if err != nil {
		return 0, fmt.Errorf("sign request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("User-Agent", w.Config.UserAgent)
	req.Header.Set("Date", date)
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)
	req.Header.Set("Signature", signature)

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post to %s: %w", pd.Delivery.InboxURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("post to %s: HTTP %d", pd.Delivery.InboxURI, resp.StatusCode)
	}
	return resp.StatusCode, nil
}
