package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertFollow inserts a Follow row for (followerID, followingID), or returns
// the existing row's id if one already exists (at most one row per pair is
// an invariant, not just a convenience).
func (s *Store) UpsertFollow(followerID, followingID int64, uri string, accepted bool) (int64, error) {
	existing, err := s.GetFollow(followerID, followingID)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	acceptedInt := 0
	if accepted {
		acceptedInt = 1
	}
	row := s.db.QueryRow(fmt.Sprintf(
		`INSERT INTO follows (follower_id, following_id, uri, accepted, created_at) VALUES (%s,%s,%s,%s,%s) RETURNING id`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5)),
		followerID, followingID, uri, acceptedInt, time.Now().UTC().Format(time.RFC3339Nano))

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert follow: %w", err)
	}
	s.bumpFollowCounts(followerID, followingID, 1)
	return id, nil
}

// GetFollow returns the Follow row for a pair, or nil if absent.
func (s *Store) GetFollow(followerID, followingID int64) (*Follow, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT id, follower_id, following_id, uri, accepted, created_at FROM follows WHERE follower_id=%s AND following_id=%s`,
		s.ph(1), s.ph(2)), followerID, followingID)
	var f Follow
	var accepted int
	var createdAt string
	if err := row.Scan(&f.ID, &f.FollowerID, &f.FollowingID, &f.URI, &accepted, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	f.Accepted = accepted != 0
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &f, nil
}

// AcceptFollow marks a follow accepted. Used when an Accept activity arrives
// for a Follow this instance originated.
func (s *Store) AcceptFollow(followerID, followingID int64) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`UPDATE follows SET accepted=1 WHERE follower_id=%s AND following_id=%s`, s.ph(1), s.ph(2)),
		followerID, followingID)
	return err
}

// RemoveFollow deletes the Follow row for a pair (used by Reject and Undo).
// Converges to the same end state regardless of delivery order, since it
// matches on the pair rather than on activity URI.
func (s *Store) RemoveFollow(followerID, followingID int64) error {
	res, err := s.db.Exec(fmt.Sprintf(
		`DELETE FROM follows WHERE follower_id=%s AND following_id=%s`, s.ph(1), s.ph(2)),
		followerID, followingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.bumpFollowCounts(followerID, followingID, -1)
	}
	return nil
}

func (s *Store) bumpFollowCounts(followerID, followingID int64, delta int) {
	s.db.Exec(fmt.Sprintf(`UPDATE actor_stats SET following = following + %s WHERE actor_id = %s`, s.ph(1), s.ph(2)), delta, followerID)
	s.db.Exec(fmt.Sprintf(`UPDATE actor_stats SET followers = followers + %s WHERE actor_id = %s`, s.ph(1), s.ph(2)), delta, followingID)
}

// AcceptedFollowerInboxes returns the inbox URIs (deduplicated by shared
// inbox where present) of every actor with an accepted follow of actorID —
// the fan-out target set for a locally produced Create/Announce.
func (s *Store) AcceptedFollowerInboxes(actorID int64) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT COALESCE(NULLIF(a.shared_inbox_uri, ''), a.inbox_uri)
		FROM follows f JOIN actors a ON a.id = f.follower_id
		WHERE f.following_id = %s AND f.accepted = 1`, s.ph(1)), actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[string]bool{}
	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		if !seen[uri] {
			seen[uri] = true
			out = append(out, uri)
		}
	}
	return out, rows.Err()
}

// FollowerActorURIs returns the actor URIs of accepted followers of
// actorID — the followers collection's enumeration (contrast with
// AcceptedFollowerInboxes, which dedupes by shared inbox for delivery).
func (s *Store) FollowerActorURIs(actorID int64) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT a.uri FROM follows f JOIN actors a ON a.id = f.follower_id
		WHERE f.following_id = %s AND f.accepted = 1`, s.ph(1)), actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		out = append(out, uri)
	}
	return out, rows.Err()
}

// FollowingURIs returns the actor URIs actorID has an accepted follow of —
// the following collection's enumeration.
func (s *Store) FollowingURIs(actorID int64) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT a.uri FROM follows f JOIN actors a ON a.id = f.following_id
		WHERE f.follower_id = %s AND f.accepted = 1`, s.ph(1)), actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		out = append(out, uri)
	}
	return out, rows.Err()
}

// UpsertLike inserts a Like row for (actorID, objectID), unique, idempotent.
func (s *Store) UpsertLike(actorID, objectID int64) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO likes (actor_id, object_id, created_at) VALUES (%s,%s,%s)
		 ON CONFLICT(actor_id, object_id) DO NOTHING`, s.ph(1), s.ph(2), s.ph(3)),
		actorID, objectID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// RemoveLike deletes a Like row (Undo of a Like).
func (s *Store) RemoveLike(actorID, objectID int64) error {
	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM likes WHERE actor_id=%s AND object_id=%s`, s.ph(1), s.ph(2)), actorID, objectID)
	return err
}

// UpsertAnnounce inserts an Announce row, unique, idempotent.
func (s *Store) UpsertAnnounce(actorID, objectID int64) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO announces (actor_id, object_id, created_at) VALUES (%s,%s,%s)
		 ON CONFLICT(actor_id, object_id) DO NOTHING`, s.ph(1), s.ph(2), s.ph(3)),
		actorID, objectID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// RemoveAnnounce deletes an Announce row (Undo of an Announce).
func (s *Store) RemoveAnnounce(actorID, objectID int64) error {
	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM announces WHERE actor_id=%s AND object_id=%s`, s.ph(1), s.ph(2)), actorID, objectID)
	return err
}

// GetActorStats returns the denormalized counts for an actor.
func (s *Store) GetActorStats(actorID int64) (*ActorStats, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT actor_id, followers, following, posts FROM actor_stats WHERE actor_id = %s`, s.ph(1)), actorID)
	var st ActorStats
	if err := row.Scan(&st.ActorID, &st.Followers, &st.Following, &st.Posts); err != nil {
		if err == sql.ErrNoRows {
			return &ActorStats{ActorID: actorID}, nil
		}
		return nil, err
	}
	return &st, nil
}

// RefreshActorStats recomputes an actor's denormalized counts from first
// principles — used by the maintenance scheduler to correct any drift from
// the incremental bumps above.
func (s *Store) RefreshActorStats(actorID int64) error {
	var followers, following, posts int
	if err := s.db.QueryRow(fmt.Sprintf(
		`SELECT COUNT(*) FROM follows WHERE following_id=%s AND accepted=1`, s.ph(1)), actorID).Scan(&followers); err != nil {
		return err
	}
	if err := s.db.QueryRow(fmt.Sprintf(
		`SELECT COUNT(*) FROM follows WHERE follower_id=%s AND accepted=1`, s.ph(1)), actorID).Scan(&following); err != nil {
		return err
	}
	if err := s.db.QueryRow(fmt.Sprintf(
		`SELECT COUNT(*) FROM objects WHERE actor_id=%s AND deleted_at IS NULL`, s.ph(1)), actorID).Scan(&posts); err != nil {
		return err
	}
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO actor_stats (actor_id, followers, following, posts) VALUES (%s,%s,%s,%s)
		 ON CONFLICT(actor_id) DO UPDATE SET followers=excluded.followers, following=excluded.following, posts=excluded.posts`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4)), actorID, followers, following, posts)
	return err
}
