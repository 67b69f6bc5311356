// Package account provides PostgreSQL-backed storage for message owners and
// their moderation settings. Configs are read fresh for every message so a
// settings change takes effect on the next delivery without invalidation.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/chatwarden/chatwarden/internal/models"
)

// ErrNotFound is returned for lookups against a missing owner id.
var ErrNotFound = errors.New("account: not found")

// Store manages owner accounts in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates an account store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindOwnerByAddress resolves the inbound address a message arrived on to
// its owner. An unknown address returns (nil, nil): the caller drops the
// message rather than treating it as a failure.
func (s *Store) FindOwnerByAddress(ctx context.Context, address string) (*models.Owner, error) {
	const query = `
		SELECT id, display_name, inbound_address
		FROM accounts
		WHERE inbound_address = $1`

	var o models.Owner
	err := s.db.QueryRowContext(ctx, query, address).Scan(&o.ID, &o.DisplayName, &o.InboundAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account: find owner by address: %w", err)
	}
	return &o, nil
}

// GetModerationConfig loads an owner's moderation settings. Candidate terms
// the owner confirmed as hate speech are merged into the blocked word list
// here, so a confirmation takes effect from the next message on without
// touching the stored lists.
func (s *Store) GetModerationConfig(ctx context.Context, ownerID string) (models.ModerationConfig, error) {
	const query = `
		SELECT hate_speech_enabled, nudity_enabled, violence_enabled,
		       auto_reply_on_block, blocked_words, allowed_words
		FROM accounts
		WHERE id = $1`

	var cfg models.ModerationConfig
	err := s.db.QueryRowContext(ctx, query, ownerID).Scan(
		&cfg.HateSpeechEnabled, &cfg.NudityEnabled, &cfg.ViolenceEnabled,
		&cfg.AutoReplyOnBlock,
		pq.Array(&cfg.BlockedWords), pq.Array(&cfg.AllowedWords),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ModerationConfig{}, ErrNotFound
	}
	if err != nil {
		return models.ModerationConfig{}, fmt.Errorf("account: get moderation config: %w", err)
	}

	confirmed, err := s.confirmedTerms(ctx, ownerID)
	if err != nil {
		return models.ModerationConfig{}, err
	}
	cfg.BlockedWords = mergeTerms(cfg.BlockedWords, confirmed)
	return cfg, nil
}

func (s *Store) confirmedTerms(ctx context.Context, ownerID string) ([]string, error) {
	const query = `
		SELECT word
		FROM candidate_terms
		WHERE owner_id = $1 AND review_status = 'confirmed_hate_speech'`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("account: confirmed terms: %w", err)
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var word string
		if err := rows.Scan(&word); err != nil {
			return nil, fmt.Errorf("account: confirmed terms: %w", err)
		}
		terms = append(terms, word)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: confirmed terms: %w", err)
	}
	return terms, nil
}

func mergeTerms(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base))
	for _, t := range base {
		seen[t] = true
	}
	merged := base
	for _, t := range extra {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	return merged
}
