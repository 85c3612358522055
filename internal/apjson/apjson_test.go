package apjson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetStringAbsent(t *testing.T) {
	_, ok := GetString([]byte(`{"type":"Follow"}`), "actor")
	require.False(t, ok)
}

func TestGetStringPresent(t *testing.T) {
	v, ok := GetString([]byte(`{"type":"Follow","actor":"https://a.example/users/bob"}`), "actor")
	require.True(t, ok)
	require.Equal(t, "https://a.example/users/bob", v)
}

func TestStringsAtHandlesStringOrArray(t *testing.T) {
	require.Equal(t, []string{"https://www.w3.org/ns/activitystreams#Public"},
		StringsAt([]byte(`{"to":"https://www.w3.org/ns/activitystreams#Public"}`), "to"))
	require.Equal(t, []string{"a", "b"},
		StringsAt([]byte(`{"cc":["a","b"]}`), "cc"))
}

func TestDomain(t *testing.T) {
	require.Equal(t, "remote.example", Domain("https://remote.example/users/bob"))
	require.Equal(t, "", Domain(":::not a uri"))
}

func TestIsLocalURI(t *testing.T) {
	require.True(t, IsLocalURI("https://test.example/users/alice", "https://test.example"))
	require.False(t, IsLocalURI("https://other.example/users/alice", "https://test.example"))
}

func TestIsActivityPubMediaType(t *testing.T) {
	require.True(t, IsActivityPubMediaType("application/activity+json"))
	require.True(t, IsActivityPubMediaType(`application/ld+json; profile="https://www.w3.org/ns/activitystreams"`))
	require.False(t, IsActivityPubMediaType("application/json"))
}
