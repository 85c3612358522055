package sig

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-fed/httpsig"
)

// signedHeaders is the fixed header set signed on every outbound request.
// Inbound verification checks whichever headers the Signature header lists.
var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// BuildSignatureHeader signs an outbound request per draft-cavage-http-signatures-12
// and returns the Signature header value plus the Digest header value to attach
// alongside it. keyID identifies the signing key (typically "<actor-uri>#main-key").
func BuildSignatureHeader(keyID string, priv *KeyPair, method, targetURL, date string, body []byte) (signature, digest string, err error) {
	if priv == nil || priv.Private == nil {
		return "", "", fmt.Errorf("no private key available for %s", keyID)
	}

	u, err := url.Parse(targetURL)
	if err != nil {
		return "", "", fmt.Errorf("parse target url: %w", err)
	}

	req, err := http.NewRequest(method, targetURL, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Host", u.Host)
	req.Header.Set("Date", date)

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return "", "", fmt.Errorf("create signer: %w", err)
	}
	if err := signer.SignRequest(priv.Private, keyID, req, body); err != nil {
		return "", "", fmt.Errorf("sign request: %w", err)
	}

	return req.Header.Get("Signature"), req.Header.Get("Digest"), nil
}

// VerifyHTTPSignature reconstructs the canonical signing string from the
// supplied request attributes and checks the Signature header against pubPEM.
// The Date header is first checked against maxSkew to reject replayed
// requests: a captured signed request cannot be reused once its Date falls
// outside the freshness window, even though the signature bytes are still
// valid. Any parse, skew, or cryptographic failure returns false; this
// function never returns an error, matching the "never raise across this
// boundary" contract.
func VerifyHTTPSignature(signatureHeader, method, path, host, date string, body []byte, pubPEM string, maxSkew time.Duration) bool {
	reqTime, err := http.ParseTime(date)
	if err != nil {
		return false
	}
	if skew := time.Since(reqTime); skew > maxSkew || skew < -maxSkew {
		return false
	}

	pub, err := DecodePublicPEM(pubPEM)
	if err != nil {
		return false
	}

	target := "http://" + host + path
	req, err := http.NewRequest(method, target, io.NopCloser(bytes.NewReader(body)))
	if err != nil {
		return false
	}
	req.Header.Set("Host", host)
	req.Header.Set("Date", date)
	req.Header.Set("Digest", Digest(body))
	req.Header.Set("Signature", signatureHeader)

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return false
	}
	if err := verifier.Verify(pub, httpsig.RSA_SHA256); err != nil {
		return false
	}
	return true
}

// KeyIDFromSignatureHeader extracts the keyId field from a raw Signature
// header without performing verification, so callers can look up the
// corresponding actor's public key before calling VerifyHTTPSignature.
func KeyIDFromSignatureHeader(req *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("parse signature header: %w", err)
	}
	return verifier.KeyId(), nil
}
