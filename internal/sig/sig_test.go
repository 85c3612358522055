package sig

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDigestKnownValue(t *testing.T) {
	require.Equal(t, "SHA-256=uU0nuZNNPgilLlLX2n2r+sSE7+N6U4DukIj3rOLvzek=", Digest([]byte("hello world")))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	msg := []byte("the quick brown fox")
	signature, err := Sign(kp.Private, msg)
	require.NoError(t, err)
	require.True(t, Verify(kp.Public, msg, signature))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	signature, err := Sign(kp.Private, []byte("original"))
	require.NoError(t, err)
	require.False(t, Verify(kp.Public, []byte("tampered"), signature))
}

func TestBuildVerifyHTTPSignatureRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	keyID := "https://test.example/users/alice#main-key"
	body := []byte(`{"type":"Follow"}`)
	date := time.Now().UTC().Format(http.TimeFormat)

	signature, _, err := BuildSignatureHeader(keyID, kp, "POST", "https://remote.example/inbox", date, body)
	require.NoError(t, err)

	ok := VerifyHTTPSignature(signature, "POST", "/inbox", "remote.example", date, body, kp.PublicPEM, 300*time.Second)
	require.True(t, ok)
}

func TestVerifyHTTPSignatureRejectsStaleDate(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	keyID := "https://test.example/users/alice#main-key"
	body := []byte(`{"type":"Follow"}`)
	date := time.Now().Add(-10 * time.Minute).UTC().Format(http.TimeFormat)

	signature, _, err := BuildSignatureHeader(keyID, kp, "POST", "https://remote.example/inbox", date, body)
	require.NoError(t, err)

	ok := VerifyHTTPSignature(signature, "POST", "/inbox", "remote.example", date, body, kp.PublicPEM, 300*time.Second)
	require.False(t, ok)
}

func TestVerifyHTTPSignatureRejectsTamperedBody(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	keyID := "https://test.example/users/alice#main-key"
	date := time.Now().UTC().Format(http.TimeFormat)

	signature, _, err := BuildSignatureHeader(keyID, kp, "POST", "https://remote.example/inbox", date, []byte("original body"))
	require.NoError(t, err)

	ok := VerifyHTTPSignature(signature, "POST", "/inbox", "remote.example", date, []byte("different body"), kp.PublicPEM, 300*time.Second)
	require.False(t, ok)
}
