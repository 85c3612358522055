// Package apjson provides tolerant field extraction from untrusted
// ActivityStreams JSON and URI/domain parsing helpers shared by the
// federation components. Every extractor returns an absent value instead of
// an error; the inbox dispatcher depends on this to stay silent in the face
// of malformed remote payloads.
package apjson

import (
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// GetString extracts a string field at path from raw JSON, returning ("", false)
// if the path is absent, null, or not a string. This is the
// get_string(json, path) -> Option<String> helper every inbox handler is
// built on.
func GetString(raw []byte, path string) (string, bool) {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() || res.Type != gjson.String {
		return "", false
	}
	return res.String(), true
}

// GetStringOrFirst handles ActivityStreams fields that may be either a bare
// string or an array of strings/objects (e.g. "to", "cc", "actor" when
// embedded). Returns the first string found.
func GetStringOrFirst(raw []byte, path string) (string, bool) {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return "", false
	}
	if res.Type == gjson.String {
		return res.String(), true
	}
	if res.IsArray() {
		for _, item := range res.Array() {
			if item.Type == gjson.String {
				return item.String(), true
			}
			if id := item.Get("id"); id.Exists() && id.Type == gjson.String {
				return id.String(), true
			}
		}
	}
	if res.IsObject() {
		if id := res.Get("id"); id.Exists() && id.Type == gjson.String {
			return id.String(), true
		}
	}
	return "", false
}

// StringsAt returns every string value found at path, flattening the
// string-or-array duality ActivityStreams uses for to/cc/oneOf/etc.
func StringsAt(raw []byte, path string) []string {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil
	}
	if res.Type == gjson.String {
		return []string{res.String()}
	}
	var out []string
	if res.IsArray() {
		for _, item := range res.Array() {
			if item.Type == gjson.String {
				out = append(out, item.String())
			} else if id := item.Get("id"); id.Exists() {
				out = append(out, id.String())
			}
		}
	}
	return out
}

// Domain extracts the host component from a URI, used to derive Actor.domain
// and to classify an activity's origin for domain-block checks.
func Domain(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Host
}

// IsActorType reports whether an ActivityStreams type string names an actor.
func IsActorType(t string) bool {
	switch t {
	case "Person", "Service", "Application", "Group", "Organization":
		return true
	}
	return false
}

// IsLocalURI reports whether uri belongs to the given base URL (scheme+host).
func IsLocalURI(uri, baseURL string) bool {
	base := strings.TrimRight(baseURL, "/")
	return uri == base || strings.HasPrefix(uri, base+"/")
}

// IsHTTPURI reports whether s looks like an absolute http(s) URI, as opposed
// to a bare acct: handle or relative fragment.
func IsHTTPURI(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsActivityPubMediaType reports whether a Content-Type header value names
// an ActivityPub-compatible JSON-LD media type.
func IsActivityPubMediaType(contentType string) bool {
	lower := strings.ToLower(strings.TrimSpace(contentType))
	if lower == "application/activity+json" {
		return true
	}
	if !strings.HasPrefix(lower, "application/ld+json") {
		return false
	}
	return strings.Contains(lower, `profile="https://www.w3.org/ns/activitystreams"`)
}
