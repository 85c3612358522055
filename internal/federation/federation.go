// Package federation implements the protocol core: actor and object
// lifecycle, ActivityStreams serialization, and the inbox dispatcher. Every
// operation here is synchronous and transactional against internal/store;
// there is no internal thread pool or event loop — parallelism comes from
// concurrent callers (proxy workers, the delivery worker).
package federation

import (
	"sync"
	"time"

	"github.com/klppl/fedid/internal/config"
	"github.com/klppl/fedid/internal/store"
)

// Engine is the federation core: every callable operation of the external
// interface hangs off this type.
type Engine struct {
	Store  *store.Store
	Config *config.Config

	cacheTTL time.Duration
	actorCache sync.Map // uri -> cacheEntry
}

type cacheEntry struct {
	actor   *store.Actor
	expires time.Time
}

// New constructs an Engine bound to a store and configuration.
func New(st *store.Store, cfg *config.Config) *Engine {
	e := &Engine{Store: st, Config: cfg, cacheTTL: cfg.ActorCacheTTL}
	go e.sweepCache()
	return e
}

// sweepCache periodically evicts expired actor cache entries so long-running
// processes don't grow the cache unbounded across many distinct remote
// origins.
func (e *Engine) sweepCache() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		e.actorCache.Range(func(k, v any) bool {
			if now.After(v.(cacheEntry).expires) {
				e.actorCache.Delete(k)
			}
			return true
		})
	}
}

func (e *Engine) cacheActor(a *store.Actor) {
	if e.cacheTTL <= 0 {
		return
	}
	e.actorCache.Store(a.URI, cacheEntry{actor: a, expires: time.Now().Add(e.cacheTTL)})
}

func (e *Engine) cachedActor(uri string) (*store.Actor, bool) {
	v, ok := e.actorCache.Load(uri)
	if !ok {
		return nil, false
	}
	entry := v.(cacheEntry)
	if time.Now().After(entry.expires) {
		e.actorCache.Delete(uri)
		return nil, false
	}
	return entry.actor, true
}

// InvalidateActorCache drops a cached actor, used after an actor is updated
// (e.g. a fresh upsert with new profile fields) so the next lookup observes
// the change immediately instead of waiting out the TTL.
func (e *Engine) InvalidateActorCache(uri string) {
	e.actorCache.Delete(uri)
}
