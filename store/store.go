// Package store implements the durable mapping between source entities (forum
// threads, feed-triggering messages, mirrored foreign messages, treasury
// transactions) and the derived notifications the bot posted for them.
//
// The store is the single writer of truth. Every mutation takes the
// process-wide mutex, runs inside one transaction, and commits before the lock
// is released, so event handlers and the reconciler never interleave a partial
// write. A storage error leaves the row in its last-committed state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Kind selects which mapping table pair an operation targets.
type Kind string

const (
	// KindThread maps forum threads to new-thread notifications.
	KindThread Kind = "thread"
	// KindMessage maps role-triggered forum messages to feed notifications.
	KindMessage Kind = "message"
)

func (k Kind) tables() (source, notification string, err error) {
	switch k {
	case KindThread:
		return "source_thread", "notification_new_thread", nil
	case KindMessage:
		return "source_message", "notification_feed", nil
	default:
		return "", "", fmt.Errorf("unknown mapping kind %q", k)
	}
}

// Mapping is one persisted source-to-notification link plus the source
// metadata the reconciler refreshes. NotificationID is empty until a
// notification has been sent.
type Mapping struct {
	SourceID        string
	Name            string
	ParentID        string
	ParentName      string
	AuthorID        string
	AuthorName      string
	AuthorAvatarURL string
	JumpURL         string
	MemberCount     int
	MessageCount    int
	Locked          bool
	Archived        bool
	CreatedAt       time.Time
	EditedAt        time.Time

	NotificationID        string
	NotificationChannelID string
	NotificationCreatedAt time.Time
	NotificationEditedAt  time.Time
}

// MirrorRow links one foreign (Telegram) message to the ordered list of
// derived Discord message ids it fanned out into. The first derived id always
// carries the rendered author/timestamp header.
type MirrorRow struct {
	ForeignID  int64
	SentAt     time.Time
	DerivedIDs []string
}

// TreasuryEvent is one observed treasury transaction. TxHash is the
// idempotency key: a hash seen twice must not produce a second alert.
type TreasuryEvent struct {
	TxHash      string
	Value       float64
	Asset       string
	FromAddress string
	ToAddress   string
	CreatedAt   time.Time
}

// Store wraps the relational store behind the process-wide write lock.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New wraps an open database handle. The handle is shared; the Store owns the
// serialization of writes, not the connection.
func New(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for read-only status queries.
func (s *Store) DB() *sql.DB { return s.db }

// GetMapping returns the mapping for sourceID, or nil when untracked.
func (s *Store) GetMapping(ctx context.Context, kind Kind, sourceID string) (*Mapping, error) {
	src, notif, err := kind.tables()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT s.id, s.name, s.parent_id, s.parent_name, s.author_id, s.author_name,
			s.author_avatar_url, s.jump_url, s.member_count, s.message_count, s.locked, s.archived,
			s.created_at, s.edited_at,
			COALESCE(s.notification_id, ''), COALESCE(n.channel_id, ''), n.created_at, n.edited_at
		FROM %s s LEFT JOIN %s n ON n.id = s.notification_id WHERE s.id = $1`, src, notif)
	m, err := scanMapping(s.db.QueryRowContext(ctx, q, sourceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s mapping %s: %w", kind, sourceID, err)
	}
	return m, nil
}

// ListMappings returns every tracked mapping of the given kind.
func (s *Store) ListMappings(ctx context.Context, kind Kind) ([]Mapping, error) {
	src, notif, err := kind.tables()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT s.id, s.name, s.parent_id, s.parent_name, s.author_id, s.author_name,
			s.author_avatar_url, s.jump_url, s.member_count, s.message_count, s.locked, s.archived,
			s.created_at, s.edited_at,
			COALESCE(s.notification_id, ''), COALESCE(n.channel_id, ''), n.created_at, n.edited_at
		FROM %s s LEFT JOIN %s n ON n.id = s.notification_id ORDER BY s.created_at`, src, notif)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list %s mappings: %w", kind, err)
	}
	defer rows.Close()
	var out []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s mapping: %w", kind, err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpsertMapping writes the source row and, when NotificationID is set, its
// notification row, in a single transaction under the write lock.
func (s *Store) UpsertMapping(ctx context.Context, kind Kind, m Mapping) error {
	src, notif, err := kind.tables()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert %s %s: %w", kind, m.SourceID, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var oldNotif sql.NullString
	lq := fmt.Sprintf(`SELECT notification_id FROM %s WHERE id = $1`, src)
	if err := tx.QueryRowContext(ctx, lq, m.SourceID).Scan(&oldNotif); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("lookup %s %s: %w", kind, m.SourceID, err)
	}

	var notifID sql.NullString
	if m.NotificationID != "" {
		notifID = sql.NullString{String: m.NotificationID, Valid: true}
		nq := fmt.Sprintf(`INSERT INTO %s (id, channel_id, created_at, edited_at) VALUES ($1,$2,$3,$4)
			ON CONFLICT (id) DO UPDATE SET channel_id=EXCLUDED.channel_id, edited_at=EXCLUDED.edited_at`, notif)
		if _, err := tx.ExecContext(ctx, nq, m.NotificationID, m.NotificationChannelID,
			nullTime(m.NotificationCreatedAt), nullTime(m.NotificationEditedAt)); err != nil {
			return fmt.Errorf("upsert %s notification %s: %w", kind, m.NotificationID, err)
		}
	}
	sq := fmt.Sprintf(`INSERT INTO %s (id, name, parent_id, parent_name, author_id, author_name,
			author_avatar_url, jump_url, member_count, message_count, locked, archived,
			created_at, edited_at, notification_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, parent_id=EXCLUDED.parent_id, parent_name=EXCLUDED.parent_name,
			author_id=EXCLUDED.author_id, author_name=EXCLUDED.author_name,
			author_avatar_url=EXCLUDED.author_avatar_url, jump_url=EXCLUDED.jump_url,
			member_count=EXCLUDED.member_count, message_count=EXCLUDED.message_count,
			locked=EXCLUDED.locked, archived=EXCLUDED.archived,
			edited_at=EXCLUDED.edited_at,
			notification_id=COALESCE(EXCLUDED.notification_id, %s.notification_id)`, src, src)
	if _, err := tx.ExecContext(ctx, sq, m.SourceID, m.Name, m.ParentID, m.ParentName,
		m.AuthorID, m.AuthorName, m.AuthorAvatarURL, m.JumpURL, m.MemberCount, m.MessageCount,
		m.Locked, m.Archived, nullTime(m.CreatedAt), nullTime(m.EditedAt), notifID); err != nil {
		return fmt.Errorf("upsert %s source %s: %w", kind, m.SourceID, err)
	}
	// A re-bump replaces the link; the superseded notification row must not
	// linger once nothing references it.
	if m.NotificationID != "" && oldNotif.Valid && oldNotif.String != m.NotificationID {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, notif), oldNotif.String); err != nil {
			return fmt.Errorf("delete superseded %s notification %s: %w", kind, oldNotif.String, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert %s %s: %w", kind, m.SourceID, err)
	}
	return nil
}

// DeleteMapping removes the source row and its notification row. Deleting an
// untracked id is a no-op.
func (s *Store) DeleteMapping(ctx context.Context, kind Kind, sourceID string) error {
	src, notif, err := kind.tables()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete %s %s: %w", kind, sourceID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var notifID sql.NullString
	q := fmt.Sprintf(`SELECT notification_id FROM %s WHERE id = $1`, src)
	if err := tx.QueryRowContext(ctx, q, sourceID).Scan(&notifID); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("lookup %s %s: %w", kind, sourceID, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, src), sourceID); err != nil {
		return fmt.Errorf("delete %s source %s: %w", kind, sourceID, err)
	}
	if notifID.Valid {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, notif), notifID.String); err != nil {
			return fmt.Errorf("delete %s notification %s: %w", kind, notifID.String, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete %s %s: %w", kind, sourceID, err)
	}
	return nil
}

// RefreshNotificationEdit records the remote edit timestamp of a notification.
func (s *Store) RefreshNotificationEdit(ctx context.Context, kind Kind, notificationID string, editedAt time.Time) error {
	_, notif, err := kind.tables()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q := fmt.Sprintf(`UPDATE %s SET edited_at = $1 WHERE id = $2`, notif)
	if _, err := s.db.ExecContext(ctx, q, nullTime(editedAt), notificationID); err != nil {
		return fmt.Errorf("refresh %s notification %s: %w", kind, notificationID, err)
	}
	return nil
}

// GetMirror returns the mirror row for a foreign message id, or nil when absent.
func (s *Store) GetMirror(ctx context.Context, foreignID int64) (*MirrorRow, error) {
	var row MirrorRow
	var derived string
	err := s.db.QueryRowContext(ctx,
		`SELECT foreign_id, sent_at, COALESCE(derived_ids, '[]') FROM external_mirror_message WHERE foreign_id = $1`,
		foreignID).Scan(&row.ForeignID, &row.SentAt, &derived)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mirror %d: %w", foreignID, err)
	}
	if err := json.Unmarshal([]byte(derived), &row.DerivedIDs); err != nil {
		return nil, fmt.Errorf("decode mirror %d derived ids: %w", foreignID, err)
	}
	return &row, nil
}

// UpsertMirror stores the ordered derived-id list for a foreign message.
func (s *Store) UpsertMirror(ctx context.Context, row MirrorRow) error {
	derived, err := json.Marshal(row.DerivedIDs)
	if err != nil {
		return fmt.Errorf("encode mirror %d derived ids: %w", row.ForeignID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO external_mirror_message (foreign_id, sent_at, derived_ids) VALUES ($1,$2,$3)
		 ON CONFLICT (foreign_id) DO UPDATE SET sent_at=EXCLUDED.sent_at, derived_ids=EXCLUDED.derived_ids`,
		row.ForeignID, row.SentAt, string(derived))
	if err != nil {
		return fmt.Errorf("upsert mirror %d: %w", row.ForeignID, err)
	}
	return nil
}

// DeleteMirror removes a mirror row.
func (s *Store) DeleteMirror(ctx context.Context, foreignID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM external_mirror_message WHERE foreign_id = $1`, foreignID); err != nil {
		return fmt.Errorf("delete mirror %d: %w", foreignID, err)
	}
	return nil
}

// InsertTreasuryEvent records a transaction and reports whether the hash was
// new. The insert is the idempotency gate: concurrent deliveries of the same
// hash race on the primary key and only one of them observes a new row.
func (s *Store) InsertTreasuryEvent(ctx context.Context, ev TreasuryEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO treasury_event (tx_hash, value, asset, from_address, to_address, created_at)
		 VALUES ($1,$2,$3,$4,$5,COALESCE($6, NOW())) ON CONFLICT (tx_hash) DO NOTHING`,
		ev.TxHash, ev.Value, ev.Asset, ev.FromAddress, ev.ToAddress, nullTime(ev.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert treasury event %s: %w", ev.TxHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert treasury event %s: %w", ev.TxHash, err)
	}
	return n == 1, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanMapping(r rowScanner) (*Mapping, error) {
	var m Mapping
	var createdAt, editedAt, nCreated, nEdited sql.NullTime
	if err := r.Scan(&m.SourceID, &m.Name, &m.ParentID, &m.ParentName, &m.AuthorID, &m.AuthorName,
		&m.AuthorAvatarURL, &m.JumpURL, &m.MemberCount, &m.MessageCount, &m.Locked, &m.Archived,
		&createdAt, &editedAt, &m.NotificationID, &m.NotificationChannelID, &nCreated, &nEdited); err != nil {
		return nil, err
	}
	m.CreatedAt, m.EditedAt = createdAt.Time, editedAt.Time
	m.NotificationCreatedAt, m.NotificationEditedAt = nCreated.Time, nEdited.Time
	return &m, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
