package vocab

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var (
	// ErrExists is returned by Create when the (owner, word) pair is
	// already tracked.
	ErrExists = errors.New("vocab: term already tracked")

	// ErrNotFound is returned for operations on an untracked term.
	ErrNotFound = errors.New("vocab: term not found")
)

// Store manages candidate terms in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a candidate term store backed by the given database
// handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns one tracked term.
func (s *Store) Get(ctx context.Context, ownerID, word string) (*CandidateTerm, error) {
	const query = `
		SELECT owner_id, word, occurrence_count, first_seen_at, last_seen_at,
		       confidence, review_status, decision_reason, decided_at
		FROM candidate_terms
		WHERE owner_id = $1 AND word = $2`

	term, err := scanTerm(s.db.QueryRowContext(ctx, query, ownerID, word))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vocab: get: %w", err)
	}
	return term, nil
}

// Create starts tracking a term. The caller seeds the occurrence count from
// the owner's blocked history.
func (s *Store) Create(ctx context.Context, term *CandidateTerm) error {
	const query = `
		INSERT INTO candidate_terms (owner_id, word, occurrence_count,
			first_seen_at, last_seen_at, confidence, review_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		term.OwnerID, term.Word, term.OccurrenceCount,
		term.FirstSeenAt.UTC(), term.LastSeenAt.UTC(),
		term.Confidence, string(term.ReviewStatus),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrExists
		}
		return fmt.Errorf("vocab: create: %w", err)
	}
	return nil
}

// Touch records one more observation of a tracked term: the count is
// incremented, last-seen refreshed, and the confidence estimate replaced.
// The second return is false when the term is not tracked.
func (s *Store) Touch(ctx context.Context, ownerID, word string, seenAt time.Time, confidence float64) (bool, error) {
	const query = `
		UPDATE candidate_terms
		SET occurrence_count = occurrence_count + 1,
		    last_seen_at = $3,
		    confidence = $4
		WHERE owner_id = $1 AND word = $2`

	res, err := s.db.ExecContext(ctx, query, ownerID, word, seenAt.UTC(), confidence)
	if err != nil {
		return false, fmt.Errorf("vocab: touch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("vocab: touch: %w", err)
	}
	return n > 0, nil
}

// Decide moves a pending term to a terminal status. The second return is
// false when the term was already decided; ErrNotFound means the term is
// not tracked at all.
func (s *Store) Decide(ctx context.Context, ownerID, word string, decision ReviewStatus, reason string) (bool, error) {
	if !ValidDecision(decision) {
		return false, fmt.Errorf("vocab: decide: invalid decision %q", decision)
	}

	const query = `
		UPDATE candidate_terms
		SET review_status = $3, decision_reason = $4, decided_at = $5
		WHERE owner_id = $1 AND word = $2 AND review_status = 'pending'`

	res, err := s.db.ExecContext(ctx, query, ownerID, word, string(decision), reason, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("vocab: decide: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("vocab: decide: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := s.Get(ctx, ownerID, word); err != nil {
		return false, err
	}
	return false, nil
}

// List returns an owner's tracked terms, most recently seen first. A
// non-empty status narrows the scan; the review queue asks for pending.
func (s *Store) List(ctx context.Context, ownerID string, status ReviewStatus, limit int) ([]*CandidateTerm, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	query := `
		SELECT owner_id, word, occurrence_count, first_seen_at, last_seen_at,
		       confidence, review_status, decision_reason, decided_at
		FROM candidate_terms
		WHERE owner_id = $1`
	args := []interface{}{ownerID}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" AND review_status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY last_seen_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vocab: list: %w", err)
	}
	defer rows.Close()

	var terms []*CandidateTerm
	for rows.Next() {
		term, err := scanTerm(rows)
		if err != nil {
			return nil, fmt.Errorf("vocab: list: %w", err)
		}
		terms = append(terms, term)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vocab: list: %w", err)
	}
	return terms, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTerm(row scanner) (*CandidateTerm, error) {
	var (
		term      CandidateTerm
		status    string
		reason    sql.NullString
		decidedAt sql.NullTime
	)
	err := row.Scan(
		&term.OwnerID, &term.Word, &term.OccurrenceCount,
		&term.FirstSeenAt, &term.LastSeenAt,
		&term.Confidence, &status, &reason, &decidedAt,
	)
	if err != nil {
		return nil, err
	}
	term.ReviewStatus = ReviewStatus(status)
	term.DecisionReason = reason.String
	if decidedAt.Valid {
		t := decidedAt.Time
		term.DecidedAt = &t
	}
	return &term, nil
}
