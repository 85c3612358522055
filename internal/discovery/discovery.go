// Package discovery implements the federation instance's well-known
// discovery documents: WebFinger (RFC 7033), host-meta (XRD), and NodeInfo
// 2.0/2.1.
package discovery

import (
	"fmt"
	"strings"

	"github.com/klppl/fedid/internal/config"
	"github.com/klppl/fedid/internal/store"
)

const activityJSONType = "application/activity+json"

// WebFingerResponse is a JSON Resource Descriptor (RFC 7033).
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebFingerLink `json:"links"`
}

type WebFingerLink struct {
	Rel      string `json:"rel"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Template string `json:"template,omitempty"`
}

// NodeInfo is the NodeInfo 2.0/2.1 schema document.
type NodeInfo struct {
	Version           string           `json:"version"`
	Software          NodeInfoSoftware `json:"software"`
	Protocols         []string         `json:"protocols"`
	Usage             NodeInfoUsage    `json:"usage"`
	OpenRegistrations bool             `json:"openRegistrations"`
}

type NodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type NodeInfoUsage struct {
	Users NodeInfoUsers `json:"users"`
}

type NodeInfoUsers struct {
	Total int `json:"total"`
}

// Resolver looks up local actors for WebFinger and NodeInfo usage counts.
type Resolver struct {
	Store   *store.Store
	Config  *config.Config
	Version string
}

// ErrNotFound is returned when a WebFinger resource does not resolve to a
// known local actor.
var ErrNotFound = fmt.Errorf("resource not found")

// ResolveWebFinger answers a `?resource=acct:user@domain` query for a local
// actor, the only resource form this instance serves.
func (r *Resolver) ResolveWebFinger(resource string) (*WebFingerResponse, error) {
	acct := strings.TrimPrefix(resource, "acct:")
	parts := strings.SplitN(acct, "@", 2)
	if len(parts) != 2 {
		return nil, ErrNotFound
	}
	username, host := parts[0], parts[1]
	if host != r.Config.Domain {
		return nil, ErrNotFound
	}

	actor, err := r.Store.GetLocalActorByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("lookup actor %q: %w", username, err)
	}
	if actor == nil {
		return nil, ErrNotFound
	}

	return &WebFingerResponse{
		Subject: resource,
		Aliases: []string{actor.URI},
		Links: []WebFingerLink{
			{Rel: "self", Type: activityJSONType, Href: actor.URI},
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: actor.URI},
		},
	}, nil
}

// HostMeta renders the XRD host-meta document pointing at WebFinger.
func (r *Resolver) HostMeta() string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" type="application/jrd+json" template="%s/.well-known/webfinger?resource={uri}"/>
</XRD>`, r.Config.BaseURL(""))
}

// NodeInfoDiscovery is the `.well-known/nodeinfo` links document.
func (r *Resolver) NodeInfoDiscovery() map[string]any {
	return map[string]any{
		"links": []map[string]string{
			{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.1",
				"href": r.Config.BaseURL("/nodeinfo/2.1"),
			},
		},
	}
}

// NodeInfoSchema renders the NodeInfo document itself for the given version
// ("2.0" or "2.1"); returns nil for any other version.
func (r *Resolver) NodeInfoSchema(version string) *NodeInfo {
	if version != "2.0" && version != "2.1" {
		return nil
	}
	total, _ := r.Store.CountLocalActors()
	return &NodeInfo{
		Version:   version,
		Software:  NodeInfoSoftware{Name: "fedid", Version: r.Version},
		Protocols: []string{"activitypub"},
		Usage:     NodeInfoUsage{Users: NodeInfoUsers{Total: total}},
	}
}
