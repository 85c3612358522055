// Package store is the transactional relational storage layer for the
// federation engine: actors, keys, objects, activities, the follow graph,
// domain blocks, the delivery queue, and denormalized actor stats. It
// supports both SQLite (single-binary deployments) and PostgreSQL (the
// LISTEN/NOTIFY channels of the external interface require Postgres; on
// SQLite, Notify is a local in-process fan-out instead).
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps a database connection and exposes every data-access operation
// the federation engine calls.
type Store struct {
	db     *sql.DB
	driver string

	// listener is non-nil only on Postgres; it backs Notify/Listen for the
	// ap_delivery_queued / ap_activity_received / ap_object_created channels.
	listener *pq.Listener

	subsMu sync.Mutex
	subs   map[string][]chan string // channel name -> subscriber queues (sqlite fan-out)
}

// Open opens a database connection. databaseURL may be a bare file path or
// "sqlite://path" (SQLite), or "postgres://..."/"postgresql://..." (Postgres).
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db, driver: driver, subs: make(map[string][]chan string)}

	if driver == "sqlite" {
		const sqliteMaxConns = 4
		db.SetMaxOpenConns(sqliteMaxConns)
		db.SetMaxIdleConns(sqliteMaxConns)

		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
			}
		}
		slog.Info("sqlite database opened", "max_conns", sqliteMaxConns)
	} else {
		listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("pq listener event", "error", err)
			}
		})
		for _, channel := range []string{ChannelDeliveryQueued, ChannelActivityReceived, ChannelObjectCreated} {
			if err := listener.Listen(channel); err != nil {
				return nil, fmt.Errorf("listen %s: %w", channel, err)
			}
		}
		s.listener = listener
		slog.Info("postgres database opened, listening for notifications")
	}

	return s, nil
}

// Close releases the database connection (and listener, on Postgres).
func (s *Store) Close() error {
	if s.listener != nil {
		s.listener.Close()
	}
	return s.db.Close()
}

// Driver reports "sqlite" or "postgres".
func (s *Store) Driver() string { return s.driver }

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}

// ph returns the nth (1-based) placeholder for the active driver.
func (s *Store) ph(n int) string {
	if s.driver == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Pub/sub channel names, payload is the numeric activity or object id.
const (
	ChannelDeliveryQueued   = "ap_delivery_queued"
	ChannelActivityReceived = "ap_activity_received"
	ChannelObjectCreated    = "ap_object_created"
)

// notify publishes payload on channel. On Postgres this is a real NOTIFY; on
// SQLite (single process, no server-side pub/sub) it fans out to in-process
// subscribers registered via Listen, which is sufficient for the single-binary
// deployment mode where the delivery worker runs in the same process.
func (s *Store) notify(channel string, payload int64) {
	body := strconv.FormatInt(payload, 10)
	if s.driver == "postgres" {
		if _, err := s.db.Exec(`SELECT pg_notify(`+s.ph(1)+`, `+s.ph(2)+`)`, channel, body); err != nil {
			slog.Warn("pg_notify failed", "channel", channel, "error", err)
		}
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs[channel] {
		select {
		case ch <- body:
		default:
		}
	}
}

// Listen returns a channel delivering payloads published on the given
// channel. On Postgres it multiplexes pq.Listener's Notify channel; on
// SQLite it registers an in-process subscriber. Callers should treat the
// channel as best-effort: a slow consumer may miss notifications under load,
// exactly like Postgres LISTEN/NOTIFY itself offers no delivery guarantee
// beyond "at least one notification will eventually arrive while connected".
func (s *Store) Listen(channel string) <-chan string {
	out := make(chan string, 16)
	if s.driver == "sqlite" {
		s.subsMu.Lock()
		s.subs[channel] = append(s.subs[channel], out)
		s.subsMu.Unlock()
		return out
	}

	go func() {
		for n := range s.listener.Notify {
			if n == nil || n.Channel != channel {
				continue
			}
			select {
			case out <- n.Extra:
			default:
			}
		}
	}()
	return out
}
