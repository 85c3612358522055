package discovery

import (
	"fmt"
	"testing"
	"time"

	"github.com/klppl/fedid/internal/config"
	"github.com/klppl/fedid/internal/federation"
	"github.com/klppl/fedid/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, *federation.Engine) {
	t.Helper()
	st, err := store.Open(fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano()))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{Domain: "fedid.example", HTTPS: true}
	eng := federation.New(st, cfg)
	return &Resolver{Store: st, Config: cfg, Version: "test"}, eng
}

func TestResolveWebFingerKnownActor(t *testing.T) {
	r, eng := newTestResolver(t)
	_, err := eng.CreateLocalActor("maya", "Maya", "")
	require.NoError(t, err)

	resp, err := r.ResolveWebFinger("acct:maya@fedid.example")
	require.NoError(t, err)
	require.Equal(t, "https://fedid.example/users/maya", resp.Aliases[0])
	require.Equal(t, "self", resp.Links[0].Rel)
}

func TestResolveWebFingerUnknownActor(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.ResolveWebFinger("acct:nobody@fedid.example")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveWebFingerWrongDomain(t *testing.T) {
	r, eng := newTestResolver(t)
	_, err := eng.CreateLocalActor("nina", "Nina", "")
	require.NoError(t, err)

	_, err = r.ResolveWebFinger("acct:nina@other.example")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNodeInfoSchemaRejectsUnknownVersion(t *testing.T) {
	r, _ := newTestResolver(t)
	require.Nil(t, r.NodeInfoSchema("1.0"))
	require.NotNil(t, r.NodeInfoSchema("2.1"))
}

func TestNodeInfoSchemaCountsLocalActors(t *testing.T) {
	r, eng := newTestResolver(t)
	_, err := eng.CreateLocalActor("otto", "Otto", "")
	require.NoError(t, err)

	info := r.NodeInfoSchema("2.1")
	require.Equal(t, 1, info.Usage.Users.Total)
}
