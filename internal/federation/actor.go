package federation

import (
	"regexp"

	"github.com/klppl/fedid/internal/apjson"
	"github.com/klppl/fedid/internal/federr"
	"github.com/klppl/fedid/internal/sig"
	"github.com/klppl/fedid/internal/store"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// CreateLocalActor creates a local actor with a freshly generated keypair
// and returns its canonical URI.
func (e *Engine) CreateLocalActor(username, displayName, summary string) (string, error) {
	if !usernameRe.MatchString(username) {
		return "", federr.MalformedInput("invalid username %q", username)
	}
	if existing, err := e.Store.GetLocalActorByUsername(username); err != nil {
		return "", federr.Internal(err)
	} else if existing != nil {
		return "", federr.DuplicateActor("username %q", username)
	}

	kp, err := sig.Generate()
	if err != nil {
		return "", federr.CryptoFailure("generate keypair: %v", err)
	}

	uri := e.Config.BaseURL("/users/" + username)
	a := &store.Actor{
		URI:            uri,
		Username:       username,
		Type:           "Person",
		InboxURI:       uri + "/inbox",
		OutboxURI:      uri + "/outbox",
		SharedInboxURI: e.Config.BaseURL("/inbox"),
		DisplayName:    displayName,
		Summary:        summary,
	}
	storeKP := &store.KeyPair{
		KeyID:         uri + "#main-key",
		PublicKeyPEM:  kp.PublicPEM,
		PrivateKeyPEM: sig.EncodePrivatePEM(kp.Private),
	}

	if _, err := e.Store.InsertLocalActor(a, storeKP); err != nil {
		return "", federr.Internal(err)
	}
	return uri, nil
}

// UpsertRemoteActor validates and stores/updates a remote actor from its
// ActivityStreams JSON representation, returning its canonical URI.
func (e *Engine) UpsertRemoteActor(raw []byte) (string, error) {
	id, ok := apjson.GetString(raw, "id")
	if !ok {
		return "", federr.MalformedInput("actor missing id")
	}
	actorType, ok := apjson.GetString(raw, "type")
	if !ok || !apjson.IsActorType(actorType) {
		return "", federr.MalformedInput("actor %s missing or invalid type", id)
	}
	username, ok := apjson.GetString(raw, "preferredUsername")
	if !ok {
		return "", federr.MalformedInput("actor %s missing preferredUsername", id)
	}
	inbox, ok := apjson.GetString(raw, "inbox")
	if !ok {
		return "", federr.MalformedInput("actor %s missing inbox", id)
	}

	domain := apjson.Domain(id)
	if domain == "" {
		return "", federr.MalformedInput("actor %s has no resolvable domain", id)
	}
	if blocked, err := e.Store.IsDomainBlocked(domain, e.Config.DomainBlockMatchSuffix); err != nil {
		return "", federr.Internal(err)
	} else if blocked {
		return "", federr.DomainBlocked(domain)
	}

	outbox, _ := apjson.GetString(raw, "outbox")
	sharedInbox, _ := apjson.GetString(raw, "endpoints.sharedInbox")
	name, _ := apjson.GetString(raw, "name")
	summary, _ := apjson.GetString(raw, "summary")
	iconURL, _ := apjson.GetString(raw, "icon.url")
	pubKeyPEM, _ := apjson.GetString(raw, "publicKey.publicKeyPem")

	a := &store.Actor{
		URI: id, Username: username, Domain: domain, Type: actorType,
		InboxURI: inbox, OutboxURI: outbox, SharedInboxURI: sharedInbox,
		DisplayName: name, Summary: summary, IconURL: iconURL,
	}
	if _, err := e.Store.UpsertRemoteActor(a, pubKeyPEM); err != nil {
		return "", federr.Internal(err)
	}
	e.InvalidateActorCache(id)
	return id, nil
}

// ResolveActor returns a locally cached or stored actor by URI, or nil.
func (e *Engine) ResolveActor(uri string) (*store.Actor, error) {
	if a, ok := e.cachedActor(uri); ok {
		return a, nil
	}
	a, err := e.Store.GetActorByURI(uri)
	if err != nil {
		return nil, federr.Internal(err)
	}
	if a != nil {
		e.cacheActor(a)
	}
	return a, nil
}

// SerializeActor renders a local actor as ActivityStreams JSON-LD.
func (e *Engine) SerializeActor(a *store.Actor) (*ActorDoc, error) {
	kp, err := e.Store.GetKeyPair(a.ID)
	if err != nil {
		return nil, federr.Internal(err)
	}
	if kp == nil {
		return nil, federr.NotFound("no key for actor %s", a.URI)
	}

	doc := &ActorDoc{
		Context:           DefaultContext,
		ID:                a.URI,
		Type:              a.Type,
		PreferredUsername: a.Username,
		Name:              a.DisplayName,
		Summary:           a.Summary,
		Inbox:             a.InboxURI,
		Outbox:            a.OutboxURI,
		Followers:         a.URI + "/followers",
		Following:         a.URI + "/following",
		Featured:          a.URI + "/collections/featured",
		PublicKey: &PublicKey{
			ID:           kp.KeyID,
			Owner:        a.URI,
			PublicKeyPem: kp.PublicKeyPEM,
		},
	}
	if a.IconURL != "" {
		doc.Icon = &Image{Type: "Image", URL: a.IconURL}
	}
	if a.SharedInboxURI != "" {
		doc.Endpoints = &Endpoints{SharedInbox: a.SharedInboxURI}
	}
	return doc, nil
}
