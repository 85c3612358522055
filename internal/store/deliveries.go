package store

import (
	"database/sql"
	"fmt"
	"time"
)

// backoffSchedule is indexed by attempt count (1-based); attempts beyond the
// last element clamp to it.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
	3 * 24 * time.Hour,
	7 * 24 * time.Hour,
}

func backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return backoffSchedule[0]
	}
	if attempts > len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempts-1]
}

// EnqueueDelivery inserts one Queued delivery row for an activity/inbox pair.
func (s *Store) EnqueueDelivery(activityID int64, inboxURI string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	row := s.db.QueryRow(fmt.Sprintf(
		`INSERT INTO deliveries (activity_id, inbox_uri, status, attempts, next_retry_at, created_at)
		 VALUES (%s,%s,'Queued',0,%s,%s) RETURNING id`, s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
		activityID, inboxURI, now, now)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("enqueue delivery: %w", err)
	}
	s.notify(ChannelDeliveryQueued, id)
	return id, nil
}

// ClaimDeliveries selects up to batch rows eligible for delivery (Queued or
// Failed, next_retry_at <= now), transitions them to InFlight, and returns
// everything a worker needs to sign and POST each one. Concurrent callers
// receive disjoint batches: Postgres uses FOR UPDATE SKIP LOCKED; SQLite,
// being single-writer, admits only one claim transaction's updates at a time,
// so a concurrent claim over the same rows fails instead of returning them.
func (s *Store) ClaimDeliveries(batch int, keyIDFor func(activityActorURI string) (keyID, privPEM string, err error)) ([]PendingDelivery, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	query := fmt.Sprintf(`
		SELECT id, activity_id, inbox_uri, status, attempts, next_retry_at, created_at
		FROM deliveries
		WHERE status IN ('Queued','Failed') AND next_retry_at <= %s
		ORDER BY next_retry_at
		LIMIT %s`, s.ph(1), s.ph(2))
	if s.driver == "postgres" {
		query += " FOR UPDATE SKIP LOCKED"
	}

	rows, err := tx.Query(query, now, batch)
	if err != nil {
		return nil, fmt.Errorf("claim query: %w", err)
	}

	var claimed []Delivery
	for rows.Next() {
		var d Delivery
		var nextRetryAt, createdAt string
		if err := rows.Scan(&d.ID, &d.ActivityID, &d.InboxURI, &d.Status, &d.Attempts, &nextRetryAt, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		d.NextRetryAt, _ = time.Parse(time.RFC3339Nano, nextRetryAt)
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		claimed = append(claimed, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []PendingDelivery
	for _, d := range claimed {
		if _, err := tx.Exec(fmt.Sprintf(
			`UPDATE deliveries SET status='InFlight', last_attempt_at=%s WHERE id=%s`, s.ph(1), s.ph(2)),
			now, d.ID); err != nil {
			return nil, fmt.Errorf("claim delivery %d: %w", d.ID, err)
		}

		var activityURI, activityActorURI string
		var raw []byte
		if err := tx.QueryRow(fmt.Sprintf(`SELECT uri, actor_uri, raw FROM activities WHERE id = %s`, s.ph(1)), d.ActivityID).
			Scan(&activityURI, &activityActorURI, &raw); err != nil {
			return nil, fmt.Errorf("load activity for delivery %d: %w", d.ID, err)
		}

		keyID, privPEM, err := keyIDFor(activityActorURI)
		if err != nil {
			return nil, fmt.Errorf("resolve signing key for %s: %w", activityActorURI, err)
		}

		d.Status = "InFlight"
		out = append(out, PendingDelivery{
			Delivery:      d,
			ActivityJSON:  raw,
			SenderKeyID:   keyID,
			PrivateKeyPEM: privPEM,
		})
	}

	return out, tx.Commit()
}

// DeliverySuccess marks a delivery Delivered — terminal, never retried again.
func (s *Store) DeliverySuccess(id int64, statusCode int) error {
	res, err := s.db.Exec(fmt.Sprintf(
		`UPDATE deliveries SET status='Delivered', last_status_code=%s WHERE id=%s`, s.ph(1), s.ph(2)),
		statusCode, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delivery %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

// DeliveryFailure increments attempts and either reschedules (Failed, with
// the next backoff offset) or expires the delivery once max attempts is hit.
func (s *Store) DeliveryFailure(id int64, maxAttempts int, statusCode int, errMsg string) error {
	var attempts int
	if err := s.db.QueryRow(fmt.Sprintf(`SELECT attempts FROM deliveries WHERE id = %s`, s.ph(1)), id).Scan(&attempts); err != nil {
		return fmt.Errorf("delivery %d: %w", id, err)
	}
	attempts++

	var statusCodePtr any
	if statusCode > 0 {
		statusCodePtr = statusCode
	}

	if attempts >= maxAttempts {
		_, err := s.db.Exec(fmt.Sprintf(
			`UPDATE deliveries SET status='Expired', attempts=%s, last_status_code=%s, last_error=%s WHERE id=%s`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4)), attempts, statusCodePtr, errMsg, id)
		return err
	}

	nextRetry := time.Now().UTC().Add(backoff(attempts)).Format(time.RFC3339Nano)
	_, err := s.db.Exec(fmt.Sprintf(
		`UPDATE deliveries SET status='Failed', attempts=%s, next_retry_at=%s, last_status_code=%s, last_error=%s WHERE id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5)), attempts, nextRetry, statusCodePtr, errMsg, id)
	return err
}

// DeliveryStats returns a count of deliveries per status.
func (s *Store) DeliveryStats() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// CleanupExpiredDeliveries removes terminal delivery rows older than
// retention, freeing storage without affecting the audit trail (activities
// themselves are untouched).
func (s *Store) CleanupExpiredDeliveries(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.Exec(fmt.Sprintf(
		`DELETE FROM deliveries WHERE status IN ('Delivered','Expired') AND created_at < %s`, s.ph(1)), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
