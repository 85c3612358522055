package federation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/klppl/fedid/internal/federr"
	"github.com/klppl/fedid/internal/store"
)

// CreateNote creates a local Note, persists its Create activity, and fans
// out one Delivery row per unique follower inbox. Returns the object URI.
func (e *Engine) CreateNote(username, contentHTML, summary, inReplyTo string) (string, error) {
	actor, err := e.Store.GetLocalActorByUsername(username)
	if err != nil {
		return "", federr.Internal(err)
	}
	if actor == nil {
		return "", federr.NotFound("no local actor %q", username)
	}

	objURI := e.Config.BaseURL("/users/" + username + "/objects/" + uuid.NewString())
	visibility := store.VisibilityPublic

	obj := &store.Object{
		URI:          objURI,
		Type:         store.ObjectNote,
		ActorID:      actor.ID,
		ContentHTML:  contentHTML,
		ContentText:  stripHTML(contentHTML),
		Summary:      summary,
		InReplyToURI: inReplyTo,
		Visibility:   visibility,
	}
	if _, err := e.Store.InsertObject(obj); err != nil {
		return "", federr.Internal(err)
	}

	activityURI := objURI + "/activity"
	followersURI := actor.URI + "/followers"
	raw, err := json.Marshal(ActivityDoc{
		Context: DefaultContext,
		ID:      activityURI,
		Type:    store.ActivityCreate,
		Actor:   actor.URI,
		Object: ObjectDoc{
			Context:      DefaultContext,
			ID:           objURI,
			Type:         obj.Type,
			AttributedTo: actor.URI,
			Content:      contentHTML,
			Summary:      summary,
			InReplyTo:    inReplyTo,
			Published:    obj.PublishedAt.Format(time.RFC3339),
			To:           StringOrArray{PublicURI},
			CC:           StringOrArray{followersURI},
		},
		To:        StringOrArray{PublicURI},
		CC:        StringOrArray{followersURI},
		Published: obj.PublishedAt.Format(time.RFC3339),
	})
	if err != nil {
		return "", federr.Internal(err)
	}

	activityID, _, err := e.Store.InsertActivity(&store.Activity{
		URI: activityURI, Type: store.ActivityCreate, ActorURI: actor.URI,
		ObjectURI: objURI, Raw: raw, Local: true,
	})
	if err != nil {
		return "", federr.Internal(err)
	}
	if err := e.Store.MarkActivityProcessed(activityID); err != nil {
		return "", federr.Internal(err)
	}

	if err := e.enqueueFanOut(activityID, actor.ID); err != nil {
		return "", federr.Internal(err)
	}

	return objURI, nil
}

// enqueueFanOut inserts one Delivery row per unique follower inbox
// (deduplicated by shared inbox) for a locally produced activity.
func (e *Engine) enqueueFanOut(activityID, authorActorID int64) error {
	inboxes, err := e.Store.AcceptedFollowerInboxes(authorActorID)
	if err != nil {
		return err
	}
	for _, inbox := range inboxes {
		if _, err := e.Store.EnqueueDelivery(activityID, inbox); err != nil {
			return err
		}
	}
	return nil
}

// SerializeObject renders a store.Object as ActivityStreams JSON-LD.
func (e *Engine) SerializeObject(o *store.Object, attributedTo string) *ObjectDoc {
	doc := &ObjectDoc{
		Context:      DefaultContext,
		ID:           o.URI,
		Type:         o.Type,
		AttributedTo: attributedTo,
		Content:      o.ContentHTML,
		Summary:      o.Summary,
		InReplyTo:    o.InReplyToURI,
		Published:    o.PublishedAt.Format(time.RFC3339),
	}
	if o.UpdatedAt != nil {
		doc.Updated = o.UpdatedAt.Format(time.RFC3339)
	}
	switch o.Visibility {
	case store.VisibilityPublic:
		doc.To = StringOrArray{PublicURI}
	case store.VisibilityFollowers:
		doc.To = StringOrArray{attributedTo + "/followers"}
	case store.VisibilityDirect:
		// Direct objects are rendered without to/cc addressing; the
		// original activity's recipients are not stored on the object.
	}
	return doc
}

// SearchObjects runs a full-text search over public, non-deleted content.
func (e *Engine) SearchObjects(query string, limit int) ([]*store.Object, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	objs, err := e.Store.SearchObjects(query, limit)
	if err != nil {
		return nil, federr.Internal(err)
	}
	return objs, nil
}
