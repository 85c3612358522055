package federation

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/klppl/fedid/internal/config"
	"github.com/klppl/fedid/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.Open(fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano()))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Domain: "fedid.example", HTTPS: true, AutoAcceptFollows: true,
		MaxDeliveryAttempts: 8, DomainBlockMatchSuffix: false,
	}
	return New(st, cfg)
}

func TestCreateLocalActorAndResolve(t *testing.T) {
	e := newTestEngine(t)
	uri, err := e.CreateLocalActor("alice", "Alice", "hello")
	require.NoError(t, err)
	require.Equal(t, "https://fedid.example/users/alice", uri)

	a, err := e.ResolveActor(uri)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.True(t, a.IsLocal())

	doc, err := e.SerializeActor(a)
	require.NoError(t, err)
	require.Equal(t, "alice", doc.PreferredUsername)
	require.NotEmpty(t, doc.PublicKey.PublicKeyPem)
}

func TestCreateLocalActorRejectsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateLocalActor("alice", "Alice", "")
	require.NoError(t, err)
	_, err = e.CreateLocalActor("alice", "Alice Again", "")
	require.Error(t, err)
}

func TestCreateLocalActorRejectsBadUsername(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateLocalActor("not a valid username!", "x", "")
	require.Error(t, err)
}

func TestHandleActivityFollowAutoAccept(t *testing.T) {
	e := newTestEngine(t)
	uri, err := e.CreateLocalActor("bob", "Bob", "")
	require.NoError(t, err)

	follow := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       "https://remote.example/users/carol#follow-1",
		"type":     "Follow",
		"actor":    "https://remote.example/users/carol",
		"object":   uri,
	}
	raw, err := json.Marshal(follow)
	require.NoError(t, err)

	require.NoError(t, e.HandleActivity(raw))

	bob, err := e.Store.GetActorByURI(uri)
	require.NoError(t, err)
	carol, err := e.Store.GetActorByURI("https://remote.example/users/carol")
	require.NoError(t, err)
	require.NotNil(t, carol)

	f, err := e.Store.GetFollow(carol.ID, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, f)
	require.True(t, f.Accepted)

	stats, err := e.Store.GetActorStats(bob.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Followers)
}

func TestHandleActivityFollowManualApproval(t *testing.T) {
	st, err := store.Open(fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano()))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Domain: "fedid.example", HTTPS: true, AutoAcceptFollows: false,
		MaxDeliveryAttempts: 8,
	}
	e := New(st, cfg)

	uri, err := e.CreateLocalActor("hank", "Hank", "")
	require.NoError(t, err)

	follow := map[string]any{
		"id":     "https://remote.example/users/ivy#follow-1",
		"type":   "Follow",
		"actor":  "https://remote.example/users/ivy",
		"object": uri,
	}
	raw, err := json.Marshal(follow)
	require.NoError(t, err)
	require.NoError(t, e.HandleActivity(raw))

	hank, err := e.Store.GetActorByURI(uri)
	require.NoError(t, err)
	ivy, err := e.Store.GetActorByURI("https://remote.example/users/ivy")
	require.NoError(t, err)
	require.NotNil(t, ivy)

	f, err := e.Store.GetFollow(ivy.ID, hank.ID)
	require.NoError(t, err)
	require.NotNil(t, f)
	require.False(t, f.Accepted)

	stats, err := e.Store.DeliveryStats()
	require.NoError(t, err)
	require.Equal(t, 0, stats[store.DeliveryQueued])
}

func TestHandleActivityFollowIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	uri, err := e.CreateLocalActor("dora", "Dora", "")
	require.NoError(t, err)

	follow := map[string]any{
		"id": "https://remote.example/users/erin#follow-1", "type": "Follow",
		"actor": "https://remote.example/users/erin", "object": uri,
	}
	raw, _ := json.Marshal(follow)
	require.NoError(t, e.HandleActivity(raw))
	require.NoError(t, e.HandleActivity(raw))

	dora, _ := e.Store.GetActorByURI(uri)
	stats, err := e.Store.GetActorStats(dora.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Followers)
}

func TestHandleActivityMissingFieldsIsSilent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.HandleActivity([]byte(`{"type":"Follow"}`)))
	require.NoError(t, e.HandleActivity([]byte(`not json at all`)))
}

func TestHandleActivityBlockedDomainIsSilent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Store.BlockDomain("evil.example"))

	raw := []byte(`{"id":"https://evil.example/1","type":"Like","actor":"https://evil.example/users/mallory","object":"https://fedid.example/objects/1"}`)
	require.NoError(t, e.HandleActivity(raw))

	a, err := e.Store.GetActorByURI("https://evil.example/users/mallory")
	require.NoError(t, err)
	require.Nil(t, a)
}

func TestCreateNoteFansOutToAcceptedFollowers(t *testing.T) {
	e := newTestEngine(t)
	authorURI, err := e.CreateLocalActor("frank", "Frank", "")
	require.NoError(t, err)

	follow := map[string]any{
		"id": "https://remote.example/users/gina#follow-1", "type": "Follow",
		"actor": "https://remote.example/users/gina", "object": authorURI,
	}
	raw, _ := json.Marshal(follow)
	require.NoError(t, e.HandleActivity(raw))

	objURI, err := e.CreateNote("frank", "<p>hello world</p>", "", "")
	require.NoError(t, err)
	require.Contains(t, objURI, authorURI)

	obj, err := e.Store.GetObjectByURI(objURI)
	require.NoError(t, err)
	require.Equal(t, "hello world", obj.ContentText)

	// One delivery for the auto-Accept sent back to gina, one for the Create fan-out.
	stats, err := e.Store.DeliveryStats()
	require.NoError(t, err)
	require.Equal(t, 2, stats[store.DeliveryQueued])
}

func TestHandleActivityLikeAndUndo(t *testing.T) {
	e := newTestEngine(t)
	authorURI, err := e.CreateLocalActor("henry", "Henry", "")
	require.NoError(t, err)
	objURI, err := e.CreateNote("henry", "hi", "", "")
	require.NoError(t, err)
	_ = authorURI

	like := map[string]any{
		"id": "https://remote.example/users/iris#like-1", "type": "Like",
		"actor": "https://remote.example/users/iris", "object": objURI,
	}
	raw, _ := json.Marshal(like)
	require.NoError(t, e.HandleActivity(raw))

	obj, err := e.Store.GetObjectByURI(objURI)
	require.NoError(t, err)
	iris, err := e.Store.GetActorByURI("https://remote.example/users/iris")
	require.NoError(t, err)

	undo := map[string]any{
		"id": "https://remote.example/users/iris#undo-1", "type": "Undo",
		"actor": "https://remote.example/users/iris", "object": like,
	}
	raw, _ = json.Marshal(undo)
	require.NoError(t, e.HandleActivity(raw))

	// RemoveLike is idempotent regardless of dispatch order; just confirm no error surfaced.
	require.NotNil(t, obj)
	require.NotNil(t, iris)
}
