package store

import (
	"database/sql"
	"fmt"
	"time"
)

const objectColumns = `id, uri, type, actor_id, content_html, content_text, summary, in_reply_to_uri, visibility, published_at, updated_at, deleted_at`

func scanObject(row interface{ Scan(...any) error }) (*Object, error) {
	var o Object
	var contentHTML, summary, inReplyTo sql.NullString
	var publishedAt string
	var updatedAt, deletedAt sql.NullString
	if err := row.Scan(&o.ID, &o.URI, &o.Type, &o.ActorID, &contentHTML, &o.ContentText,
		&summary, &inReplyTo, &o.Visibility, &publishedAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	o.ContentHTML = contentHTML.String
	o.Summary = summary.String
	o.InReplyToURI = inReplyTo.String
	o.PublishedAt, _ = time.Parse(time.RFC3339Nano, publishedAt)
	if updatedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, updatedAt.String)
		o.UpdatedAt = &t
	}
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
		o.DeletedAt = &t
	}
	return &o, nil
}

// InsertObject creates a new object row. Deletion is tombstoning only —
// there is no DeleteObject that removes a row.
func (s *Store) InsertObject(o *Object) (int64, error) {
	o.PublishedAt = time.Now().UTC()
	row := s.db.QueryRow(fmt.Sprintf(
		`INSERT INTO objects (uri, type, actor_id, content_html, content_text, summary, in_reply_to_uri, visibility, published_at)
		 VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s) RETURNING id`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9)),
		o.URI, o.Type, o.ActorID, nullable(o.ContentHTML), o.ContentText, nullable(o.Summary),
		nullable(o.InReplyToURI), o.Visibility, o.PublishedAt.Format(time.RFC3339Nano))

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert object: %w", err)
	}
	o.ID = id

	if _, err := s.db.Exec(fmt.Sprintf(
		`UPDATE actor_stats SET posts = posts + 1 WHERE actor_id = %s`, s.ph(1)), o.ActorID); err != nil {
		return id, fmt.Errorf("bump post count: %w", err)
	}
	s.notify(ChannelObjectCreated, id)
	return id, nil
}

// GetObjectByURI looks up an object by its canonical URI, including
// tombstoned ones (callers check Deleted()).
func (s *Store) GetObjectByURI(uri string) (*Object, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM objects WHERE uri = %s`, objectColumns, s.ph(1)), uri)
	o, err := scanObject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// UpdateObjectContent patches the mutable fields of an object in response to
// an inbound Update activity and bumps updated_at.
func (s *Store) UpdateObjectContent(uri, contentHTML, contentText, summary string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(fmt.Sprintf(
		`UPDATE objects SET content_html=%s, content_text=%s, summary=%s, updated_at=%s WHERE uri=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5)),
		nullable(contentHTML), contentText, nullable(summary), now, uri)
	return err
}

// TombstoneObject soft-deletes an object: sets deleted_at, never removes the
// row. Once set, deleted_at is never cleared.
func (s *Store) TombstoneObject(uri string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(fmt.Sprintf(
		`UPDATE objects SET deleted_at=%s WHERE uri=%s AND deleted_at IS NULL`, s.ph(1), s.ph(2)), now, uri)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		obj, err := s.GetObjectByURI(uri)
		if err == nil && obj != nil {
			s.db.Exec(fmt.Sprintf(`UPDATE actor_stats SET posts = posts - 1 WHERE actor_id = %s AND posts > 0`, s.ph(1)), obj.ActorID)
		}
	}
	return nil
}

// SearchObjects performs a simple substring search over content_text of
// non-deleted public objects, newest first. This is a full-text index in
// the storage layer's idealized form; here it degrades gracefully to a LIKE
// scan on both SQLite and Postgres so the behavior is identical on either
// driver.
func (s *Store) SearchObjects(query string, limit int) ([]*Object, error) {
	like := "%" + query + "%"
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT %s FROM objects WHERE visibility = 'Public' AND deleted_at IS NULL AND content_text LIKE %s
		 ORDER BY published_at DESC LIMIT %s`, objectColumns, s.ph(1), s.ph(2)), like, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ActorObjectsPage returns up to limit non-deleted objects for an actor,
// ordered newest-first, for outbox pagination. beforeID is exclusive; pass 0
// for the first page.
func (s *Store) ActorObjectsPage(actorID int64, beforeID int64, limit int) ([]*Object, error) {
	var rows *sql.Rows
	var err error
	if beforeID > 0 {
		rows, err = s.db.Query(fmt.Sprintf(
			`SELECT %s FROM objects WHERE actor_id=%s AND deleted_at IS NULL AND id < %s ORDER BY id DESC LIMIT %s`,
			objectColumns, s.ph(1), s.ph(2), s.ph(3)), actorID, beforeID, limit)
	} else {
		rows, err = s.db.Query(fmt.Sprintf(
			`SELECT %s FROM objects WHERE actor_id=%s AND deleted_at IS NULL ORDER BY id DESC LIMIT %s`,
			objectColumns, s.ph(1), s.ph(2)), actorID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountActorObjects returns the number of non-deleted objects for an actor,
// used for the outbox collection's totalItems.
func (s *Store) CountActorObjects(actorID int64) (int, error) {
	var n int
	err := s.db.QueryRow(fmt.Sprintf(
		`SELECT COUNT(*) FROM objects WHERE actor_id=%s AND deleted_at IS NULL`, s.ph(1)), actorID).Scan(&n)
	return n, err
}

// HomeTimeline returns the union of an actor's own posts and posts by its
// accepted follows, reverse chronological, cursor by object id.
func (s *Store) HomeTimeline(actorID int64, beforeID int64, limit int) ([]*Object, error) {
	cursor := "9223372036854775807"
	if beforeID > 0 {
		cursor = fmt.Sprintf("%d", beforeID)
	}
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM objects
		WHERE deleted_at IS NULL AND id < %s AND (
			actor_id = %s
			OR actor_id IN (SELECT following_id FROM follows WHERE follower_id = %s AND accepted = 1)
		)
		ORDER BY id DESC LIMIT %s`, objectColumns, s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
		cursor, actorID, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
