package store

import (
	"database/sql"
	"fmt"
	"time"
)

const activityColumns = `id, uri, type, actor_uri, object_uri, target_uri, raw, local, processed_at, created_at`

func scanActivity(row interface{ Scan(...any) error }) (*Activity, error) {
	var a Activity
	var objectURI, targetURI, processedAt sql.NullString
	var local int
	var createdAt string
	if err := row.Scan(&a.ID, &a.URI, &a.Type, &a.ActorURI, &objectURI, &targetURI, &a.Raw, &local, &processedAt, &createdAt); err != nil {
		return nil, err
	}
	a.ObjectURI = objectURI.String
	a.TargetURI = targetURI.String
	a.Local = local != 0
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if processedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, processedAt.String)
		a.ProcessedAt = &t
	}
	return &a, nil
}

// InsertActivity appends a new activity row. The unique (type, uri) index is
// the dedupe primitive: a duplicate insert returns the existing row's id with
// the second result true, so callers can treat the second arrival as a no-op.
func (s *Store) InsertActivity(a *Activity) (int64, bool, error) {
	if existing, err := s.GetActivityByTypeURI(a.Type, a.URI); err != nil {
		return 0, false, err
	} else if existing != nil {
		return existing.ID, true, nil
	}

	a.CreatedAt = time.Now().UTC()
	localInt := 0
	if a.Local {
		localInt = 1
	}
	row := s.db.QueryRow(fmt.Sprintf(
		`INSERT INTO activities (uri, type, actor_uri, object_uri, target_uri, raw, local, created_at)
		 VALUES (%s,%s,%s,%s,%s,%s,%s,%s) RETURNING id`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8)),
		a.URI, a.Type, a.ActorURI, nullable(a.ObjectURI), nullable(a.TargetURI), string(a.Raw), localInt,
		a.CreatedAt.Format(time.RFC3339Nano))

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, false, fmt.Errorf("insert activity: %w", err)
	}
	a.ID = id
	return id, false, nil
}

// GetActivityByTypeURI looks up an activity by its dedupe key (type, uri).
func (s *Store) GetActivityByTypeURI(activityType, uri string) (*Activity, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT %s FROM activities WHERE type = %s AND uri = %s`, activityColumns, s.ph(1), s.ph(2)),
		activityType, uri)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetActivityByURI looks up an activity by its canonical uri alone, for
// serving a single activity document at its own URL.
func (s *Store) GetActivityByURI(uri string) (*Activity, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT %s FROM activities WHERE uri = %s`, activityColumns, s.ph(1)), uri)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// MarkActivityProcessed stamps processed_at on an activity. This is the only
// mutation activities ever undergo.
func (s *Store) MarkActivityProcessed(id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(fmt.Sprintf(`UPDATE activities SET processed_at=%s WHERE id=%s`, s.ph(1), s.ph(2)), now, id)
	if err == nil {
		s.notify(ChannelActivityReceived, id)
	}
	return err
}

// FindActivityByObjectAndType finds the most recent activity of a given type
// referencing a given object URI (e.g. the Create activity wrapping a Note).
func (s *Store) FindActivityByObjectAndType(activityType, objectURI string) (*Activity, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT %s FROM activities WHERE type = %s AND object_uri = %s ORDER BY id DESC LIMIT 1`,
		activityColumns, s.ph(1), s.ph(2)), activityType, objectURI)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}
