package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertLocalActor creates a local actor and its keypair in one transaction.
// Callers must have already validated the username format; uniqueness is
// enforced here via the actors_local_username partial unique index.
func (s *Store) InsertLocalActor(a *Actor, kp *KeyPair) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	row := tx.QueryRow(fmt.Sprintf(
		`INSERT INTO actors (uri, username, domain, type, inbox_uri, outbox_uri, shared_inbox_uri, display_name, summary, icon_url, created_at, updated_at)
		 VALUES (%s,%s,NULL,%s,%s,%s,%s,%s,%s,%s,%s,%s) RETURNING id`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11)),
		a.URI, a.Username, a.Type, a.InboxURI, a.OutboxURI, nullable(a.SharedInboxURI),
		nullable(a.DisplayName), nullable(a.Summary), nullable(a.IconURL),
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano))

	var id int64
	if err := s.scanReturnedID(tx, row, &id); err != nil {
		return 0, err
	}
	a.ID = id

	if _, err := tx.Exec(fmt.Sprintf(
		`INSERT INTO actor_keys (actor_id, key_id, public_key_pem, private_key_pem) VALUES (%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
		id, kp.KeyID, kp.PublicKeyPEM, kp.PrivateKeyPEM); err != nil {
		return 0, fmt.Errorf("insert actor key: %w", err)
	}

	if _, err := tx.Exec(fmt.Sprintf(`INSERT INTO actor_stats (actor_id) VALUES (%s)`, s.ph(1)), id); err != nil {
		return 0, fmt.Errorf("insert actor stats: %w", err)
	}

	return id, tx.Commit()
}

// scanReturnedID handles the driver difference between Postgres' native
// RETURNING support (via QueryRow) and SQLite's modernc driver, which also
// supports RETURNING since 3.35 — both paths share one code path here.
func (s *Store) scanReturnedID(tx *sql.Tx, row *sql.Row, id *int64) error {
	if err := row.Scan(id); err != nil {
		return fmt.Errorf("insert actor: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const actorColumns = `id, uri, username, domain, type, inbox_uri, outbox_uri, shared_inbox_uri, display_name, summary, icon_url, created_at, updated_at`

func scanActor(row interface{ Scan(...any) error }) (*Actor, error) {
	var a Actor
	var domain, sharedInbox, displayName, summary, iconURL sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.URI, &a.Username, &domain, &a.Type, &a.InboxURI, &a.OutboxURI,
		&sharedInbox, &displayName, &summary, &iconURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Domain = domain.String
	a.SharedInboxURI = sharedInbox.String
	a.DisplayName = displayName.String
	a.Summary = summary.String
	a.IconURL = iconURL.String
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &a, nil
}

// GetActorByURI looks up an actor (local or remote) by its canonical URI.
func (s *Store) GetActorByURI(uri string) (*Actor, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM actors WHERE uri = %s`, actorColumns, s.ph(1)), uri)
	a, err := scanActor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetLocalActorByUsername looks up a local actor (domain IS NULL) by username.
func (s *Store) GetLocalActorByUsername(username string) (*Actor, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT %s FROM actors WHERE username = %s AND domain IS NULL`, actorColumns, s.ph(1)), username)
	a, err := scanActor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// LocalActorIDs returns the row id of every actor homed on this instance,
// the maintenance scheduler's iteration set for stats refresh.
func (s *Store) LocalActorIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT id FROM actors WHERE domain IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountLocalActors returns the number of actors homed on this instance, the
// NodeInfo usage.users.total figure.
func (s *Store) CountLocalActors() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM actors WHERE domain IS NULL`).Scan(&n)
	return n, err
}

// UpsertRemoteActor inserts a remote actor, or updates its mutable fields if
// one already exists with the same URI. Returns the actor's row id.
func (s *Store) UpsertRemoteActor(a *Actor, pubKeyPEM string) (int64, error) {
	existing, err := s.GetActorByURI(a.URI)
	if err != nil {
		return 0, fmt.Errorf("lookup existing actor: %w", err)
	}

	now := time.Now().UTC()
	if existing != nil {
		if _, err := s.db.Exec(fmt.Sprintf(
			`UPDATE actors SET username=%s, type=%s, inbox_uri=%s, outbox_uri=%s, shared_inbox_uri=%s,
			 display_name=%s, summary=%s, icon_url=%s, updated_at=%s WHERE id=%s`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10)),
			a.Username, a.Type, a.InboxURI, a.OutboxURI, nullable(a.SharedInboxURI),
			nullable(a.DisplayName), nullable(a.Summary), nullable(a.IconURL),
			now.Format(time.RFC3339Nano), existing.ID); err != nil {
			return 0, fmt.Errorf("update actor: %w", err)
		}
		if pubKeyPEM != "" {
			s.upsertPublicKey(existing.ID, a.URI+"#main-key", pubKeyPEM)
		}
		return existing.ID, nil
	}

	row := s.db.QueryRow(fmt.Sprintf(
		`INSERT INTO actors (uri, username, domain, type, inbox_uri, outbox_uri, shared_inbox_uri, display_name, summary, icon_url, created_at, updated_at)
		 VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s) RETURNING id`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11), s.ph(12)),
		a.URI, a.Username, a.Domain, a.Type, a.InboxURI, a.OutboxURI, nullable(a.SharedInboxURI),
		nullable(a.DisplayName), nullable(a.Summary), nullable(a.IconURL),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert remote actor: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf(`INSERT INTO actor_stats (actor_id) VALUES (%s)`, s.ph(1)), id); err != nil {
		return 0, fmt.Errorf("insert actor stats: %w", err)
	}
	if pubKeyPEM != "" {
		s.upsertPublicKey(id, a.URI+"#main-key", pubKeyPEM)
	}
	return id, nil
}

// InsertStubActor inserts a minimal remote actor when only a URI is known
// (the inbox dispatcher uses this for an actor referenced by an inbound
// activity it has never seen before). A background refresh is out of scope.
func (s *Store) InsertStubActor(uri, domain, username string) (int64, error) {
	if existing, err := s.GetActorByURI(uri); err == nil && existing != nil {
		return existing.ID, nil
	}
	a := &Actor{
		URI:       uri,
		Username:  username,
		Domain:    domain,
		Type:      "Person",
		InboxURI:  uri + "/inbox",
		OutboxURI: uri + "/outbox",
	}
	return s.UpsertRemoteActor(a, "")
}

func (s *Store) upsertPublicKey(actorID int64, keyID, pubKeyPEM string) {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO actor_keys (actor_id, key_id, public_key_pem) VALUES (%s,%s,%s)
		 ON CONFLICT(actor_id) DO UPDATE SET key_id=excluded.key_id, public_key_pem=excluded.public_key_pem`,
		s.ph(1), s.ph(2), s.ph(3)), actorID, keyID, pubKeyPEM)
	_ = err // best-effort: a failed key refresh shouldn't fail the actor upsert
}

// GetKeyPair returns the key row for an actor.
func (s *Store) GetKeyPair(actorID int64) (*KeyPair, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT actor_id, key_id, public_key_pem, private_key_pem FROM actor_keys WHERE actor_id = %s`, s.ph(1)), actorID)
	var kp KeyPair
	var priv sql.NullString
	if err := row.Scan(&kp.ActorID, &kp.KeyID, &kp.PublicKeyPEM, &priv); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	kp.PrivateKeyPEM = priv.String
	return &kp, nil
}

// GetActorByKeyID resolves the actor owning a given HTTP Signature keyId.
func (s *Store) GetActorByKeyID(keyID string) (*Actor, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT %s FROM actors WHERE id = (SELECT actor_id FROM actor_keys WHERE key_id = %s)`,
		actorColumns, s.ph(1)), keyID)
	a, err := scanActor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}
