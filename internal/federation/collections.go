package federation

import (
	"encoding/json"
	"fmt"

	"github.com/klppl/fedid/internal/federr"
	"github.com/klppl/fedid/internal/store"
)

// SerializeOutbox returns either the summary OrderedCollection (no cursor)
// or one OrderedCollectionPage of a local actor's published objects.
func (e *Engine) SerializeOutbox(actor *store.Actor, page bool, beforeID int64) (any, error) {
	base := actor.OutboxURI
	if !page {
		total, err := e.Store.CountActorObjects(actor.ID)
		if err != nil {
			return nil, federr.Internal(err)
		}
		return &OrderedCollection{
			Context: DefaultContext, ID: base, Type: "OrderedCollection",
			TotalItems: total, First: base + "?page=true", Last: base + "?page=true&min_id=0",
		}, nil
	}

	pageSize := e.collectionPageSize()
	objs, err := e.Store.ActorObjectsPage(actor.ID, beforeID, pageSize)
	if err != nil {
		return nil, federr.Internal(err)
	}

	items := make([]any, 0, len(objs))
	var lastID int64
	for _, o := range objs {
		items = append(items, e.SerializeObject(o, actor.URI))
		lastID = o.ID
	}

	out := &OrderedCollectionPage{
		Context: DefaultContext, ID: base + "?page=true", Type: "OrderedCollectionPage",
		PartOf: base, OrderedItems: items,
	}
	if len(objs) == pageSize {
		out.Next = fmt.Sprintf("%s?page=true&min_id=%d", base, lastID)
	}
	return out, nil
}

// collectionPageSize returns the configured ordered-collection page size,
// falling back to a sane default when unset (e.g. a zero-value Config in
// tests).
func (e *Engine) collectionPageSize() int {
	if e.Config != nil && e.Config.CollectionPage > 0 {
		return e.Config.CollectionPage
	}
	return 20
}

// serializeActorURIList renders a follower/following collection, whose items
// are bare actor URIs.
func (e *Engine) serializeActorURIList(collectionURI string, uris []string, page bool) any {
	if !page {
		return &OrderedCollection{
			Context: DefaultContext, ID: collectionURI, Type: "OrderedCollection",
			TotalItems: len(uris),
			First:      collectionURI + "?page=true",
			Last:       fmt.Sprintf("%s?page=true&min_id=0", collectionURI),
		}
	}
	items := make([]any, len(uris))
	for i, u := range uris {
		items[i] = u
	}
	return &OrderedCollectionPage{
		Context: DefaultContext, ID: collectionURI + "?page=true", Type: "OrderedCollectionPage",
		PartOf: collectionURI, OrderedItems: items,
	}
}

// SerializeFollowers renders the followers collection of a local actor.
// Follower inboxes are resolved back to actor URIs for display purposes;
// the shared-inbox dedup used for delivery fan-out does not apply here.
func (e *Engine) SerializeFollowers(actor *store.Actor, page bool) (any, error) {
	uris, err := e.Store.FollowerActorURIs(actor.ID)
	if err != nil {
		return nil, federr.Internal(err)
	}
	return e.serializeActorURIList(actor.URI+"/followers", uris, page), nil
}

// SerializeFollowing renders the following collection of a local actor.
func (e *Engine) SerializeFollowing(actor *store.Actor, page bool) (any, error) {
	uris, err := e.Store.FollowingURIs(actor.ID)
	if err != nil {
		return nil, federr.Internal(err)
	}
	return e.serializeActorURIList(actor.URI+"/following", uris, page), nil
}

// SerializeFeatured renders a local actor's featured (pinned posts)
// collection. Pinning is not a modeled operation, so this is always the
// empty OrderedCollection, advertised so the URI SerializeActor emits
// resolves to a valid document rather than 404ing.
func (e *Engine) SerializeFeatured(actor *store.Actor) any {
	collectionURI := actor.URI + "/collections/featured"
	return &OrderedCollection{
		Context: DefaultContext, ID: collectionURI, Type: "OrderedCollection",
		TotalItems: 0,
	}
}

// SerializeActivity renders a single activity document at its own URI, e.g.
// the Create wrapper behind a Note's "<object>/activity" address. Returns
// the stored envelope as-is: for locally produced activities this is the
// exact JSON-LD this engine emitted; for remote ones it is the payload as
// received.
func (e *Engine) SerializeActivity(uri string) (json.RawMessage, error) {
	a, err := e.Store.GetActivityByURI(uri)
	if err != nil {
		return nil, federr.Internal(err)
	}
	if a == nil {
		return nil, federr.NotFound("no activity %s", uri)
	}
	return a.Raw, nil
}
