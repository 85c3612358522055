package admin

import (
	"fmt"
	"testing"
	"time"

	"github.com/klppl/fedid/internal/config"
	"github.com/klppl/fedid/internal/federation"
	"github.com/klppl/fedid/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T) (*Admin, *federation.Engine) {
	t.Helper()
	st, err := store.Open(fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano()))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{Domain: "fedid.example", HTTPS: true, AutoAcceptFollows: true}
	return New(st), federation.New(st, cfg)
}

func TestBlockDomainRoundTrip(t *testing.T) {
	a, _ := newTestAdmin(t)
	require.NoError(t, a.BlockDomain("evil.example"))

	blocked, err := a.BlockedDomains()
	require.NoError(t, err)
	require.Contains(t, blocked, "evil.example")

	require.NoError(t, a.UnblockDomain("evil.example"))
	blocked, err = a.BlockedDomains()
	require.NoError(t, err)
	require.NotContains(t, blocked, "evil.example")
}

func TestBlockDomainRejectsEmpty(t *testing.T) {
	a, _ := newTestAdmin(t)
	require.Error(t, a.BlockDomain(""))
}

func TestSearchFindsPublishedNote(t *testing.T) {
	a, eng := newTestAdmin(t)
	_, err := eng.CreateLocalActor("paul", "Paul", "")
	require.NoError(t, err)
	_, err = eng.CreateNote("paul", "<p>a rare word zephyrtastic appears here</p>", "", "")
	require.NoError(t, err)

	results, err := a.Search("zephyrtastic", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRunMaintenanceRefreshesStatsAndPrunesDeliveries(t *testing.T) {
	a, eng := newTestAdmin(t)
	_, err := eng.CreateLocalActor("quinn", "Quinn", "")
	require.NoError(t, err)

	require.NoError(t, a.RunMaintenance())

	log, err := a.AuditLog(10)
	require.NoError(t, err)
	require.NotEmpty(t, log)
	require.Equal(t, "maintenance_run", log[0].Action)
}
