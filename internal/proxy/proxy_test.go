package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klppl/fedid/internal/admin"
	"github.com/klppl/fedid/internal/config"
	"github.com/klppl/fedid/internal/discovery"
	"github.com/klppl/fedid/internal/federation"
	"github.com/klppl/fedid/internal/sig"
	"github.com/klppl/fedid/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *federation.Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano()))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Domain: "fedid.example", HTTPS: true, AutoAcceptFollows: true,
		WebAdminPassword: "hunter2", CollectionPage: 20,
		SignatureClockSkew: 300 * time.Second,
	}
	eng := federation.New(st, cfg)
	resolver := &discovery.Resolver{Store: st, Config: cfg, Version: "1.0.0-test"}
	adm := admin.New(st)

	return New(cfg, eng, resolver, adm), eng, st
}

func TestHandleActorServesActorDocument(t *testing.T) {
	s, eng, _ := newTestServer(t)
	uri, err := eng.CreateLocalActor("alice", "Alice", "hello")
	require.NoError(t, err)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/users/alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.Equal(t, uri, doc["id"])
}

func TestHandleActorUnknownUsernameIs404(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/users/nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleWebFingerResolvesLocalActor(t *testing.T) {
	s, eng, _ := newTestServer(t)
	_, err := eng.CreateLocalActor("bob", "Bob", "")
	require.NoError(t, err)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/.well-known/webfinger?resource=acct:bob@fedid.example")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleNodeInfoSchemaCountsActors(t *testing.T) {
	s, eng, _ := newTestServer(t)
	_, err := eng.CreateLocalActor("carol", "Carol", "")
	require.NoError(t, err)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nodeinfo/2.1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ni discovery.NodeInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ni))
	require.Equal(t, 1, ni.Usage.Users.Total)
}

func TestHandleInboxAcceptsSignedFollow(t *testing.T) {
	s, eng, st := newTestServer(t)
	localURI, err := eng.CreateLocalActor("dana", "Dana", "")
	require.NoError(t, err)
	local, err := st.GetLocalActorByUsername("dana")
	require.NoError(t, err)

	kp, err := sig.Generate()
	require.NoError(t, err)
	remoteURI := "https://remote.example/users/erin"
	remote := &store.Actor{
		URI: remoteURI, Username: "erin", Domain: "remote.example", Type: "Person",
		InboxURI: remoteURI + "/inbox", OutboxURI: remoteURI + "/outbox",
	}
	remoteID, err := st.UpsertRemoteActor(remote, kp.PublicPEM)
	require.NoError(t, err)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	body := []byte(fmt.Sprintf(`{"type":"Follow","id":"https://remote.example/activities/1","actor":%q,"object":%q}`, remoteURI, localURI))

	target := srv.URL + "/users/dana/inbox"
	date := time.Now().UTC().Format(http.TimeFormat)
	signature, digest, err := sig.BuildSignatureHeader(remoteURI+"#main-key", kp, http.MethodPost, target, date, body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", activityJSONType)
	req.Header.Set("Date", date)
	req.Header.Set("Digest", digest)
	req.Header.Set("Signature", signature)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		f, err := st.GetFollow(remoteID, local.ID)
		return err == nil && f != nil && f.Accepted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleInboxRejectsBadSignature(t *testing.T) {
	s, eng, st := newTestServer(t)
	_, err := eng.CreateLocalActor("finn", "Finn", "")
	require.NoError(t, err)

	kp, err := sig.Generate()
	require.NoError(t, err)
	remoteURI := "https://remote2.example/users/gwen"
	remote := &store.Actor{
		URI: remoteURI, Username: "gwen", Domain: "remote2.example", Type: "Person",
		InboxURI: remoteURI + "/inbox", OutboxURI: remoteURI + "/outbox",
	}
	_, err = st.UpsertRemoteActor(remote, kp.PublicPEM)
	require.NoError(t, err)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/users/finn/inbox", bytes.NewReader([]byte(`{"type":"Follow"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", activityJSONType)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Signature", `keyId="`+remoteURI+`#main-key",algorithm="rsa-sha256",headers="(request-target) host date digest",signature="bm90YXJlYWxzaWduYXR1cmU="`)
	req.Header.Set("Digest", "SHA-256=bogus")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/admin/api/status", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "hunter2")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestAdminBlockDomainRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/admin/api/blocks", bytes.NewReader([]byte(`{"domain":"evil.example"}`)))
	require.NoError(t, err)
	req.SetBasicAuth("admin", "hunter2")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	req2, err := http.NewRequest(http.MethodGet, srv.URL+"/admin/api/blocks", nil)
	require.NoError(t, err)
	req2.SetBasicAuth("admin", "hunter2")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()

	var domains []string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&domains))
	require.Contains(t, domains, "evil.example")
}
