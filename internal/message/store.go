// Package message provides PostgreSQL-backed storage for inbound messages
// and their moderation verdicts. The table is append-mostly: a row is
// inserted pending when the webhook accepts the message and receives exactly
// one verdict update when the pipeline completes. The provider message id is
// the primary key, which together with the pending-guarded verdict update
// makes redelivered webhooks and concurrent completions safe.
package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/chatwarden/chatwarden/internal/models"
)

var (
	// ErrDuplicate is returned by Insert when the provider message id is
	// already stored. Callers treat it as a redelivery, not a failure.
	ErrDuplicate = errors.New("message: duplicate provider message id")

	// ErrNotPending is returned by CompleteVerdict when the row already has
	// a verdict. A concurrent completion won; the caller must skip side
	// effects.
	ErrNotPending = errors.New("message: verdict already recorded")

	// ErrNotFound is returned when no row exists for the given id.
	ErrNotFound = errors.New("message: not found")
)

// Record is one stored message with its moderation outcome.
type Record struct {
	models.InboundMessage

	Status  models.Status  `json:"status"`
	Reason  models.Reason  `json:"reason"`
	Signals models.Signals `json:"signals"`

	// Auto-reply outcome, recorded best-effort after a blocked verdict.
	ReplySent       bool   `json:"reply_sent"`
	ReplyProviderID string `json:"reply_provider_id,omitempty"`
	ReplyError      string `json:"reply_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	DecidedAt time.Time `json:"decided_at,omitzero"` // zero until the verdict is recorded
}

// ListFilter narrows a ListByOwner scan. Zero values mean "no constraint";
// Limit is capped at MaxListLimit.
type ListFilter struct {
	OwnerID string
	Status  models.Status
	Since   time.Time
	Until   time.Time
	Limit   int
}

// MaxListLimit caps a single range scan.
const MaxListLimit = 200

// Store manages inbound messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert stores a new message in the pending state. A unique violation on
// the provider message id is reported as ErrDuplicate.
func (s *Store) Insert(ctx context.Context, m *models.InboundMessage) error {
	if m.ID == "" {
		return fmt.Errorf("message: insert: empty message id")
	}
	if !models.ValidKind(m.Kind) {
		return fmt.Errorf("message: insert: invalid kind %q", m.Kind)
	}

	var mediaID, mediaMime sql.NullString
	var mediaSize sql.NullInt64
	var mediaDuration sql.NullInt64
	if m.Media != nil {
		mediaID = sql.NullString{String: m.Media.ID, Valid: true}
		mediaMime = sql.NullString{String: m.Media.MimeType, Valid: true}
		mediaSize = sql.NullInt64{Int64: m.Media.SizeBytes, Valid: true}
		mediaDuration = sql.NullInt64{Int64: int64(m.Media.DurationSec), Valid: true}
	}

	const query = `
		INSERT INTO messages (id, owner_id, sender, kind, body,
			media_id, media_mime, media_size, media_duration,
			received_at, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.OwnerID, m.Sender, string(m.Kind), m.Text,
		mediaID, mediaMime, mediaSize, mediaDuration,
		m.ReceivedAt.UTC(), string(models.StatusPending), string(models.ReasonNone),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("message: insert: %w", err)
	}
	return nil
}

// AttachTranscript records the speech-to-text result for an audio message
// before its verdict is decided.
func (s *Store) AttachTranscript(ctx context.Context, id string, tr models.Transcript) error {
	const query = `
		UPDATE messages
		SET transcript = $2, transcript_lang = $3, transcript_confidence = $4
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, tr.Text, tr.Language, tr.Confidence)
	if err != nil {
		return fmt.Errorf("message: attach transcript: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message: attach transcript: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteVerdict writes the verdict for a pending message. The update is
// guarded by status='pending' so exactly one completion wins; a lost race
// returns ErrNotPending and a missing row ErrNotFound.
func (s *Store) CompleteVerdict(ctx context.Context, id string, v models.Verdict) error {
	if !models.ValidStatus(v.Status) || v.Status == models.StatusPending {
		return fmt.Errorf("message: complete verdict: invalid status %q", v.Status)
	}

	signalsJSON, err := json.Marshal(v.Signals)
	if err != nil {
		return fmt.Errorf("message: complete verdict: marshal signals: %w", err)
	}

	const query = `
		UPDATE messages
		SET status = $2, reason = $3, signals = $4, decided_at = $5
		WHERE id = $1 AND status = 'pending'`

	res, err := s.db.ExecContext(ctx, query,
		id, string(v.Status), string(v.Reason), signalsJSON, v.DecidedAt.UTC())
	if err != nil {
		return fmt.Errorf("message: complete verdict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message: complete verdict: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("message: complete verdict: %w", err)
	}
	return ErrNotPending
}

// RecordReply stores the outcome of the auto-reply attempt for a blocked
// message. Best-effort: a failed send is recorded, never retried here.
func (s *Store) RecordReply(ctx context.Context, id, providerMessageID, sendError string) error {
	const query = `
		UPDATE messages
		SET reply_sent = $2, reply_provider_id = $3, reply_error = $4
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, sendError == "", providerMessageID, sendError)
	if err != nil {
		return fmt.Errorf("message: record reply: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message: record reply: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const recordColumns = `
	id, owner_id, sender, kind, body,
	media_id, media_mime, media_size, media_duration,
	transcript, transcript_lang, transcript_confidence,
	received_at, status, reason, signals,
	reply_sent, reply_provider_id, reply_error,
	created_at, decided_at`

// Get returns the stored message for a provider message id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT` + recordColumns + ` FROM messages WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("message: get: %w", err)
	}
	return rec, nil
}

// ListByOwner returns an owner's messages newest first, narrowed by the
// filter's status and time range.
func (s *Store) ListByOwner(ctx context.Context, f ListFilter) ([]*Record, error) {
	if f.OwnerID == "" {
		return nil, fmt.Errorf("message: list: empty owner id")
	}
	limit := f.Limit
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `SELECT` + recordColumns + ` FROM messages WHERE owner_id = $1`
	args := []interface{}{f.OwnerID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		query += fmt.Sprintf(" AND received_at >= $%d", len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until.UTC())
		query += fmt.Sprintf(" AND received_at < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY received_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("message: list: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("message: list: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: list: %w", err)
	}
	return records, nil
}

// CountByStatus returns the owner's message counts per verdict status.
func (s *Store) CountByStatus(ctx context.Context, ownerID string) (map[models.Status]int, error) {
	const query = `
		SELECT status, COUNT(*)
		FROM messages
		WHERE owner_id = $1
		GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("message: count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("message: count by status: %w", err)
		}
		counts[models.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: count by status: %w", err)
	}
	return counts, nil
}

// CountByReason returns the owner's blocked and errored message counts per
// verdict reason.
func (s *Store) CountByReason(ctx context.Context, ownerID string) (map[models.Reason]int, error) {
	const query = `
		SELECT reason, COUNT(*)
		FROM messages
		WHERE owner_id = $1 AND reason <> 'none'
		GROUP BY reason`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("message: count by reason: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Reason]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("message: count by reason: %w", err)
		}
		counts[models.Reason(reason)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: count by reason: %w", err)
	}
	return counts, nil
}

// wordPattern builds a case-insensitive word-boundary regex for token
// scans. Tokens come normalized from the learner; QuoteMeta guards against
// the few metacharacters that could still appear.
func wordPattern(token string) string {
	return `\m` + regexp.QuoteMeta(token) + `\M`
}

// CountBlockedContaining returns how many of the owner's blocked messages
// contain the token as a whole word, in the body or the transcript. This is
// the learner's co-occurrence scan; it runs off the hot path and tolerates
// being one observation behind.
func (s *Store) CountBlockedContaining(ctx context.Context, ownerID, token string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM messages
		WHERE owner_id = $1
		  AND status = 'blocked'
		  AND (body ~* $2 OR transcript ~* $2)`

	var n int
	err := s.db.QueryRowContext(ctx, query, ownerID, wordPattern(token)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("message: count blocked containing: %w", err)
	}
	return n, nil
}

// CountContaining returns how many of the owner's messages of any status
// contain the token as a whole word.
func (s *Store) CountContaining(ctx context.Context, ownerID, token string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM messages
		WHERE owner_id = $1
		  AND (body ~* $2 OR transcript ~* $2)`

	var n int
	err := s.db.QueryRowContext(ctx, query, ownerID, wordPattern(token)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("message: count containing: %w", err)
	}
	return n, nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec           Record
		kind          string
		status        string
		reason        string
		mediaID       sql.NullString
		mediaMime     sql.NullString
		mediaSize     sql.NullInt64
		mediaDuration sql.NullInt64
		trText        sql.NullString
		trLang        sql.NullString
		trConfidence  sql.NullFloat64
		signalsJSON   []byte
		replyProvider sql.NullString
		replyError    sql.NullString
		decidedAt     sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.Sender, &kind, &rec.Text,
		&mediaID, &mediaMime, &mediaSize, &mediaDuration,
		&trText, &trLang, &trConfidence,
		&rec.ReceivedAt, &status, &reason, &signalsJSON,
		&rec.ReplySent, &replyProvider, &replyError,
		&rec.CreatedAt, &decidedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = models.Kind(kind)
	rec.Status = models.Status(status)
	rec.Reason = models.Reason(reason)
	if mediaID.Valid {
		rec.Media = &models.MediaRef{
			ID:          mediaID.String,
			MimeType:    mediaMime.String,
			SizeBytes:   mediaSize.Int64,
			DurationSec: int(mediaDuration.Int64),
		}
	}
	if trText.Valid {
		rec.Transcript = &models.Transcript{
			Text:       trText.String,
			Language:   trLang.String,
			Confidence: trConfidence.Float64,
		}
	}
	if len(signalsJSON) > 0 {
		if err := json.Unmarshal(signalsJSON, &rec.Signals); err != nil {
			return nil, fmt.Errorf("unmarshal signals: %w", err)
		}
	}
	rec.ReplyProviderID = replyProvider.String
	rec.ReplyError = replyError.String
	if decidedAt.Valid {
		rec.DecidedAt = decidedAt.Time
	}
	return &rec, nil
}
