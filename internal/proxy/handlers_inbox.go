package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/klppl/fedid/internal/sig"
)

var (
	errNoSuchKey    = errors.New("unknown signing key")
	errBadSignature = errors.New("signature verification failed")
)

// maxInboxBodyBytes bounds how much of an inbound request body is read,
// protecting against a malicious or misbehaving origin sending an
// oversized payload.
const maxInboxBodyBytes = 1 << 20

// handleInbox accepts POSTs to a user's inbox or the shared inbox. It
// verifies the HTTP Signature, applies a per-origin rate limit and a global
// concurrency limit, then dispatches the activity to the federation engine
// asynchronously — matching ActivityPub's fire-and-forget delivery
// semantics, where the sender only expects a 2xx acknowledgement.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBodyBytes))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if err := s.verifyInboundSignature(r, body); err != nil {
		slog.Warn("invalid HTTP signature", "error", err, "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	origin := actorOrigin(body, r.RemoteAddr)

	if !s.originLim.allow(origin) {
		slog.Warn("per-origin inbox rate limit exceeded", "origin", origin)
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.inboxSem <- struct{}{}:
	default:
		slog.Warn("inbox overloaded, dropping activity", "remote", r.RemoteAddr)
		http.Error(w, "too many requests", http.StatusServiceUnavailable)
		return
	}

	go func() {
		defer func() { <-s.inboxSem }()
		if err := s.engine.HandleActivity(body); err != nil {
			slog.Warn("failed to handle activity", "error", err, "origin", origin)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

// verifyInboundSignature resolves the signer's public key from the store
// and checks the Signature header against it.
func (s *Server) verifyInboundSignature(r *http.Request, body []byte) error {
	keyID, err := sig.KeyIDFromSignatureHeader(r)
	if err != nil {
		return err
	}

	actor, err := s.engine.Store.GetActorByKeyID(keyID)
	if err != nil {
		return err
	}
	if actor == nil {
		return errNoSuchKey
	}

	kp, err := s.engine.Store.GetKeyPair(actor.ID)
	if err != nil {
		return err
	}
	if kp == nil {
		return errNoSuchKey
	}

	date := r.Header.Get("Date")
	if !sig.VerifyHTTPSignature(r.Header.Get("Signature"), r.Method, r.URL.Path, r.Host, date, body, kp.PublicKeyPEM, s.cfg.SignatureClockSkew) {
		return errBadSignature
	}
	return nil
}

// actorOrigin derives the remote hostname to rate-limit on, preferring the
// activity's "actor" field and falling back to the connecting IP.
func actorOrigin(body []byte, remoteAddr string) string {
	var a struct {
		Actor json.RawMessage `json:"actor"`
	}
	if json.Unmarshal(body, &a) == nil && len(a.Actor) > 0 {
		var actorURI string
		if json.Unmarshal(a.Actor, &actorURI) == nil && actorURI != "" {
			if u, err := url.Parse(actorURI); err == nil && u.Host != "" {
				return u.Host
			}
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
