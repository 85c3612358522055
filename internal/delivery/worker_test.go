package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klppl/fedid/internal/config"
	"github.com/klppl/fedid/internal/federation"
	"github.com/klppl/fedid/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano()))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })
	return st
}

func TestWorkerDeliversQueuedActivity(t *testing.T) {
	var receivedSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSignature = r.Header.Get("Signature")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	st := newTestStore(t)
	cfg := &config.Config{
		Domain: "fedid.example", HTTPS: true, AutoAcceptFollows: true,
		MaxDeliveryAttempts: 8, DeliveryTimeout: 5 * time.Second, UserAgent: "fedid-test/1.0",
	}
	eng := federation.New(st, cfg)

	authorURI, err := eng.CreateLocalActor("kay", "Kay", "")
	require.NoError(t, err)
	_ = authorURI

	objURI, err := eng.CreateNote("kay", "hi", "", "")
	require.NoError(t, err)

	activity, err := st.FindActivityByObjectAndType(store.ActivityCreate, objURI)
	require.NoError(t, err)
	require.NotNil(t, activity)

	_, err = st.EnqueueDelivery(activity.ID, srv.URL+"/inbox")
	require.NoError(t, err)

	w := New(st, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.runOnce(ctx)

	require.NotEmpty(t, receivedSignature)

	stats, err := st.DeliveryStats()
	require.NoError(t, err)
	require.Equal(t, 1, stats[store.DeliveryDelivered])
}

func TestWorkerRetriesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := newTestStore(t)
	cfg := &config.Config{
		Domain: "fedid.example", HTTPS: true, AutoAcceptFollows: true,
		MaxDeliveryAttempts: 8, DeliveryTimeout: 5 * time.Second, UserAgent: "fedid-test/1.0",
	}
	eng := federation.New(st, cfg)
	_, err := eng.CreateLocalActor("liz", "Liz", "")
	require.NoError(t, err)
	objURI, err := eng.CreateNote("liz", "hi", "", "")
	require.NoError(t, err)
	activity, err := st.FindActivityByObjectAndType(store.ActivityCreate, objURI)
	require.NoError(t, err)

	_, err = st.EnqueueDelivery(activity.ID, srv.URL+"/inbox")
	require.NoError(t, err)

	w := New(st, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.runOnce(ctx)

	stats, err := st.DeliveryStats()
	require.NoError(t, err)
	require.Equal(t, 1, stats[store.DeliveryFailed])
}
