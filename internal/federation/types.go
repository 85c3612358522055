package federation

import (
	"encoding/json"
	"fmt"
)

// StringOrArray deserializes an ActivityStreams field that may be either a
// bare string or an array of strings (to/cc use this duality throughout).
type StringOrArray []string

func (s *StringOrArray) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = arr
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = []string{str}
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into string or []string", data)
}

// Well-known ActivityStreams / security vocabulary URIs.
const (
	PublicURI         = "https://www.w3.org/ns/activitystreams#Public"
	ActivityStreamsNS = "https://www.w3.org/ns/activitystreams"
	SecurityNS        = "https://w3id.org/security/v1"
)

// DefaultContext is the JSON-LD @context attached to every actor/object/
// activity this engine produces.
var DefaultContext = []any{
	ActivityStreamsNS,
	SecurityNS,
	map[string]any{
		"Hashtag":       "as:Hashtag",
		"sensitive":     "as:sensitive",
		"schema":        "http://schema.org#",
		"PropertyValue": "schema:PropertyValue",
		"value":         "schema:value",
	},
}

// ActorDoc is the JSON-LD rendering of a store.Actor.
type ActorDoc struct {
	Context           any        `json:"@context,omitempty"`
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	PreferredUsername string     `json:"preferredUsername"`
	Name              string     `json:"name,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	Inbox             string     `json:"inbox"`
	Outbox            string     `json:"outbox,omitempty"`
	Followers         string     `json:"followers,omitempty"`
	Following         string     `json:"following,omitempty"`
	Featured          string     `json:"featured,omitempty"`
	PublicKey         *PublicKey `json:"publicKey,omitempty"`
	Icon              *Image     `json:"icon,omitempty"`
	Endpoints         *Endpoints `json:"endpoints,omitempty"`
}

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Image struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// ObjectDoc is the JSON-LD rendering of a store.Object.
type ObjectDoc struct {
	Context      any           `json:"@context,omitempty"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	AttributedTo string        `json:"attributedTo"`
	Content      string        `json:"content,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	InReplyTo    string        `json:"inReplyTo,omitempty"`
	Published    string        `json:"published"`
	Updated      string        `json:"updated,omitempty"`
	To           StringOrArray `json:"to,omitempty"`
	CC           StringOrArray `json:"cc,omitempty"`
}

// ActivityDoc is the JSON-LD rendering of a store.Activity. Object may embed
// a full ObjectDoc (Create) or hold a bare URI string (Like/Announce/Undo);
// callers marshal whichever shape applies before assigning.
type ActivityDoc struct {
	Context   any           `json:"@context,omitempty"`
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Actor     string        `json:"actor"`
	Object    any           `json:"object,omitempty"`
	Target    string        `json:"target,omitempty"`
	To        StringOrArray `json:"to,omitempty"`
	CC        StringOrArray `json:"cc,omitempty"`
	Published string        `json:"published,omitempty"`
}

// OrderedCollection is the non-paginated rendering of outbox/followers/
// following/featured when no ?page parameter is supplied.
type OrderedCollection struct {
	Context    any    `json:"@context"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
	First      string `json:"first,omitempty"`
	Last       string `json:"last,omitempty"`
}

// OrderedCollectionPage is returned when ?page is present.
type OrderedCollectionPage struct {
	Context      any    `json:"@context"`
	ID           string `json:"id"`
	Type         string `json:"type"`
	PartOf       string `json:"partOf"`
	OrderedItems []any  `json:"orderedItems"`
	Next         string `json:"next,omitempty"`
	Prev         string `json:"prev,omitempty"`
}

// IncomingActivity is the tolerant unmarshal target for an inbound
// ActivityStreams document: every field is optional, mirroring the inbox
// dispatcher's "missing field -> skip" contract.
type IncomingActivity struct {
	ID     string        `json:"id"`
	Type   string        `json:"type"`
	Actor  StringOrArray `json:"actor"`
	Object json.RawMessage `json:"object"`
	Target StringOrArray `json:"target"`
	To     StringOrArray `json:"to"`
	CC     StringOrArray `json:"cc"`
}
