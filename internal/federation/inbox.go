package federation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klppl/fedid/internal/apjson"
	"github.com/klppl/fedid/internal/store"
)

// HandleActivity is the inbox trust boundary: it persists, deduplicates, and
// applies an inbound ActivityStreams document. Malformed input and blocked
// domains are logged and swallowed rather than raised, since a federated
// peer's broken payload is never this instance's fault to report upward.
// Only genuine storage failures are returned to the caller.
func (e *Engine) HandleActivity(raw []byte) error {
	activityType, ok := apjson.GetString(raw, "type")
	if !ok {
		slog.Warn("inbound activity missing type")
		return nil
	}
	activityURI, ok := apjson.GetString(raw, "id")
	if !ok {
		slog.Warn("inbound activity missing id", "type", activityType)
		return nil
	}
	actorURI, ok := apjson.GetStringOrFirst(raw, "actor")
	if !ok {
		slog.Warn("inbound activity missing actor", "type", activityType, "id", activityURI)
		return nil
	}

	domain := apjson.Domain(actorURI)
	if domain == "" {
		slog.Warn("inbound activity actor has no resolvable domain", "actor", actorURI)
		return nil
	}
	if blocked, err := e.Store.IsDomainBlocked(domain, e.Config.DomainBlockMatchSuffix); err != nil {
		return fmt.Errorf("check domain block: %w", err)
	} else if blocked {
		e.Store.WriteAuditLog("reject_blocked_domain", fmt.Sprintf("%s from %s", activityType, actorURI))
		return nil
	}

	if existing, err := e.Store.GetActivityByTypeURI(activityType, activityURI); err != nil {
		return fmt.Errorf("check activity dedupe: %w", err)
	} else if existing != nil {
		slog.Debug("inbound activity already processed", "type", activityType, "id", activityURI)
		return nil
	}

	actor, err := e.Store.GetActorByURI(actorURI)
	if err != nil {
		return fmt.Errorf("resolve actor: %w", err)
	}
	if actor == nil {
		id, err := e.Store.InsertStubActor(actorURI, domain, stubUsername(actorURI))
		if err != nil {
			return fmt.Errorf("insert stub actor: %w", err)
		}
		actor, err = e.Store.GetActorByURI(actorURI)
		if err != nil || actor == nil {
			return fmt.Errorf("reload stub actor %d: %w", id, err)
		}
	}

	activityID, _, err := e.Store.InsertActivity(&store.Activity{
		URI: activityURI, Type: activityType, ActorURI: actorURI, Raw: raw,
	})
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	var in IncomingActivity
	if err := json.Unmarshal(raw, &in); err != nil {
		slog.Warn("inbound activity failed structured parse", "type", activityType, "id", activityURI, "error", err)
		return e.Store.MarkActivityProcessed(activityID)
	}

	var dispatchErr error
	switch activityType {
	case store.ActivityFollow:
		dispatchErr = e.handleFollow(actor, in)
	case store.ActivityAccept:
		dispatchErr = e.handleAccept(actor, in)
	case store.ActivityReject:
		dispatchErr = e.handleReject(actor, in)
	case store.ActivityUndo:
		dispatchErr = e.handleUndo(actor, in)
	case store.ActivityCreate:
		dispatchErr = e.handleCreate(actor, in)
	case store.ActivityUpdate:
		dispatchErr = e.handleUpdate(actor, in)
	case store.ActivityDelete:
		dispatchErr = e.handleDelete(actor, in)
	case store.ActivityLike:
		dispatchErr = e.handleLike(actor, in)
	case store.ActivityAnnounce:
		dispatchErr = e.handleAnnounce(actor, in)
	case store.ActivityBlock:
		// Block is an actor-level preference expressed in-band by some
		// implementations; this instance enforces blocks only through its
		// own domain_blocks table, so an inbound Block is recorded for
		// audit purposes and otherwise ignored.
		e.Store.WriteAuditLog("received_block", actorURI)
	default:
		slog.Debug("unhandled inbound activity type", "type", activityType)
	}
	if dispatchErr != nil {
		slog.Warn("dispatch inbound activity failed", "type", activityType, "id", activityURI, "error", dispatchErr)
	}

	return e.Store.MarkActivityProcessed(activityID)
}

func (e *Engine) handleFollow(actor *store.Actor, in IncomingActivity) error {
	followedURI := extractURI(in.Object)
	if followedURI == "" {
		return fmt.Errorf("follow object not a bare actor uri")
	}
	followed, err := e.Store.GetActorByURI(followedURI)
	if err != nil {
		return err
	}
	if followed == nil || !followed.IsLocal() {
		return fmt.Errorf("follow target %s is not a local actor", followedURI)
	}

	if !e.Config.AutoAcceptFollows {
		_, err := e.Store.UpsertFollow(actor.ID, followed.ID, in.ID, false)
		return err
	}

	if _, err := e.Store.UpsertFollow(actor.ID, followed.ID, in.ID, true); err != nil {
		return err
	}
	accept := e.buildFollowResponse(store.ActivityAccept, followed, actor.URI, in.ID, followedURI)
	return e.deliverLocalActivity(followed, accept)
}

func (e *Engine) handleAccept(actor *store.Actor, in IncomingActivity) error {
	followerURI, followedURI, err := parseEmbeddedFollow(in.Object)
	if err != nil {
		return err
	}
	follower, err := e.Store.GetActorByURI(followerURI)
	if err != nil || follower == nil {
		return fmt.Errorf("accept references unknown follower %s: %w", followerURI, err)
	}
	followed, err := e.Store.GetActorByURI(followedURI)
	if err != nil || followed == nil {
		return fmt.Errorf("accept references unknown followed actor %s: %w", followedURI, err)
	}
	return e.Store.AcceptFollow(follower.ID, followed.ID)
}

func (e *Engine) handleReject(actor *store.Actor, in IncomingActivity) error {
	followerURI, followedURI, err := parseEmbeddedFollow(in.Object)
	if err != nil {
		return err
	}
	follower, err := e.Store.GetActorByURI(followerURI)
	if err != nil || follower == nil {
		return nil
	}
	followed, err := e.Store.GetActorByURI(followedURI)
	if err != nil || followed == nil {
		return nil
	}
	return e.Store.RemoveFollow(follower.ID, followed.ID)
}

// handleUndo reverses whatever the embedded activity originally did. Follow,
// Like, and Announce are the only undoable activities this instance applies
// state for; an Undo of anything else is accepted and ignored.
func (e *Engine) handleUndo(actor *store.Actor, in IncomingActivity) error {
	var inner IncomingActivity
	if err := json.Unmarshal(in.Object, &inner); err != nil {
		return fmt.Errorf("parse undo object: %w", err)
	}
	switch inner.Type {
	case store.ActivityFollow:
		followedURI := extractURI(inner.Object)
		followed, err := e.Store.GetActorByURI(followedURI)
		if err != nil || followed == nil {
			return nil
		}
		return e.Store.RemoveFollow(actor.ID, followed.ID)
	case store.ActivityLike:
		obj, err := e.Store.GetObjectByURI(extractURI(inner.Object))
		if err != nil || obj == nil {
			return nil
		}
		return e.Store.RemoveLike(actor.ID, obj.ID)
	case store.ActivityAnnounce:
		obj, err := e.Store.GetObjectByURI(extractURI(inner.Object))
		if err != nil || obj == nil {
			return nil
		}
		return e.Store.RemoveAnnounce(actor.ID, obj.ID)
	default:
		return nil
	}
}

func (e *Engine) handleCreate(actor *store.Actor, in IncomingActivity) error {
	objType, _ := apjson.GetString(in.Object, "type")
	objURI, _ := apjson.GetString(in.Object, "id")
	if objType == "" || objURI == "" {
		return fmt.Errorf("create object missing type or id")
	}
	contentHTML, _ := apjson.GetString(in.Object, "content")
	summary, _ := apjson.GetString(in.Object, "summary")
	inReplyTo, _ := apjson.GetString(in.Object, "inReplyTo")

	visibility := store.VisibilityDirect
	recipients := append(apjson.StringsAt(in.Object, "to"), apjson.StringsAt(in.Object, "cc")...)
	for _, r := range recipients {
		if r == PublicURI {
			visibility = store.VisibilityPublic
			break
		}
		if visibility != store.VisibilityPublic && len(r) > len("/followers") && r[len(r)-len("/followers"):] == "/followers" {
			visibility = store.VisibilityFollowers
		}
	}

	_, err := e.Store.InsertObject(&store.Object{
		URI: objURI, Type: objType, ActorID: actor.ID,
		ContentHTML: contentHTML, ContentText: stripHTML(contentHTML),
		Summary: summary, InReplyToURI: inReplyTo, Visibility: visibility,
	})
	return err
}

func (e *Engine) handleUpdate(actor *store.Actor, in IncomingActivity) error {
	objType, _ := apjson.GetString(in.Object, "type")
	if apjson.IsActorType(objType) {
		e.InvalidateActorCache(actor.URI)
		if _, err := e.UpsertRemoteActor(in.Object); err != nil {
			return err
		}
		return nil
	}
	objURI, _ := apjson.GetString(in.Object, "id")
	contentHTML, _ := apjson.GetString(in.Object, "content")
	summary, _ := apjson.GetString(in.Object, "summary")
	return e.Store.UpdateObjectContent(objURI, contentHTML, stripHTML(contentHTML), summary)
}

func (e *Engine) handleDelete(actor *store.Actor, in IncomingActivity) error {
	objURI := extractURI(in.Object)
	if objURI == "" {
		return fmt.Errorf("delete object has no resolvable uri")
	}
	return e.Store.TombstoneObject(objURI)
}

func (e *Engine) handleLike(actor *store.Actor, in IncomingActivity) error {
	obj, err := e.Store.GetObjectByURI(extractURI(in.Object))
	if err != nil {
		return err
	}
	if obj == nil {
		return nil
	}
	return e.Store.UpsertLike(actor.ID, obj.ID)
}

func (e *Engine) handleAnnounce(actor *store.Actor, in IncomingActivity) error {
	obj, err := e.Store.GetObjectByURI(extractURI(in.Object))
	if err != nil {
		return err
	}
	if obj == nil {
		// The announced object is not locally known; record nothing rather
		// than fetching it synchronously on the inbox's critical path.
		return nil
	}
	return e.Store.UpsertAnnounce(actor.ID, obj.ID)
}

// stubUsername derives a placeholder username from the actor URI's last path
// segment so a stub actor satisfies the username-not-null constraint before
// the real profile is fetched.
func stubUsername(actorURI string) string {
	for i := len(actorURI) - 1; i >= 0; i-- {
		if actorURI[i] == '/' {
			return actorURI[i+1:]
		}
	}
	return actorURI
}

// extractURI resolves either a bare URI string or an embedded object's id
// field, the duality ActivityStreams uses throughout activity objects.
func extractURI(raw json.RawMessage) string {
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare
	}
	uri, _ := apjson.GetString(raw, "id")
	return uri
}

func parseEmbeddedFollow(raw json.RawMessage) (followerURI, followedURI string, err error) {
	followerURI, ok := apjson.GetString(raw, "actor")
	if !ok {
		return "", "", fmt.Errorf("embedded follow missing actor")
	}
	followedURI, ok = apjson.GetString(raw, "object")
	if !ok {
		return "", "", fmt.Errorf("embedded follow missing object")
	}
	return followerURI, followedURI, nil
}

func (e *Engine) buildFollowResponse(responseType string, responder *store.Actor, followerURI, followActivityID, followedURI string) map[string]any {
	return map[string]any{
		"@context": DefaultContext,
		"id":       fmt.Sprintf("%s#%s-%d", responder.URI, responseType, time.Now().UnixNano()),
		"type":     responseType,
		"actor":    responder.URI,
		"object": map[string]any{
			"id":     followActivityID,
			"type":   store.ActivityFollow,
			"actor":  followerURI,
			"object": followedURI,
		},
		"to": []string{followerURI},
	}
}

// deliverLocalActivity persists a locally originated response activity
// (e.g. a Follow Accept) and enqueues its single-recipient delivery.
func (e *Engine) deliverLocalActivity(responder *store.Actor, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	activityID, _, err := e.Store.InsertActivity(&store.Activity{
		URI: doc["id"].(string), Type: doc["type"].(string), ActorURI: responder.URI,
		Raw: raw, Local: true,
	})
	if err != nil {
		return err
	}
	if err := e.Store.MarkActivityProcessed(activityID); err != nil {
		return err
	}
	recipient, _ := doc["to"].([]string)
	if len(recipient) == 0 {
		return nil
	}
	target, err := e.Store.GetActorByURI(recipient[0])
	if err != nil || target == nil {
		return nil
	}
	_, err = e.Store.EnqueueDelivery(activityID, target.InboxURI)
	return err
}
