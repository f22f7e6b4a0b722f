package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Signatures are the replay signatures of one run.
type Signatures struct {
	RunID           string
	SourceSignature string
	PageText        string
	UnitSlices      string
	AnchorTextLinks string
	UnitCount       int
	AnchorLinkCount int
	RecordedAt      time.Time
}

// RecordSignatures stores or replaces a run's replay signatures.
func (s *Store) RecordSignatures(ctx context.Context, sig Signatures) error {
	recorded := sig.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	err := s.exec(ctx,
		`INSERT INTO signatures (run_id, source_signature, page_text, unit_slices, anchor_text_links, unit_count, anchor_link_count, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id) DO UPDATE SET
             source_signature = excluded.source_signature,
             page_text = excluded.page_text,
             unit_slices = excluded.unit_slices,
             anchor_text_links = excluded.anchor_text_links,
             unit_count = excluded.unit_count,
             anchor_link_count = excluded.anchor_link_count,
             recorded_at = excluded.recorded_at`,
		sig.RunID, sig.SourceSignature, sig.PageText, sig.UnitSlices, sig.AnchorTextLinks,
		sig.UnitCount, sig.AnchorLinkCount, formatTime(recorded))
	if err != nil {
		return fmt.Errorf("record signatures: %w", err)
	}
	return nil
}

// PriorSignatures returns the signatures of the most recently completed run
// that shares sourceSignature, excluding runID. It returns nil when no such
// run exists.
func (s *Store) PriorSignatures(ctx context.Context, sourceSignature, runID string) (*Signatures, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT g.run_id, g.source_signature, g.page_text, g.unit_slices, g.anchor_text_links,
                g.unit_count, g.anchor_link_count, g.recorded_at
         FROM signatures g JOIN runs r ON r.run_id = g.run_id
         WHERE g.source_signature = ? AND g.run_id <> ? AND r.status = ?
         ORDER BY r.completed_at DESC, g.run_id DESC LIMIT 1`,
		sourceSignature, runID, StatusCompleted)
	var (
		sig      Signatures
		recorded sql.NullString
	)
	err := row.Scan(&sig.RunID, &sig.SourceSignature, &sig.PageText, &sig.UnitSlices, &sig.AnchorTextLinks,
		&sig.UnitCount, &sig.AnchorLinkCount, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prior signatures: %w", err)
	}
	sig.RecordedAt = parseTime(recorded)
	return &sig, nil
}

// Scorecard is a stored quality evaluation.
type Scorecard struct {
	ID             int64
	RunID          string
	ProfileID      string
	BaselineRunID  string
	InputSignature string
	OverallPass    bool
	JSON           string
	CreatedAt      time.Time
}

// RecordScorecard appends a scorecard for a run.
func (s *Store) RecordScorecard(ctx context.Context, card Scorecard) error {
	created := card.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	pass := 0
	if card.OverallPass {
		pass = 1
	}
	if err := s.exec(ctx,
		`INSERT INTO scorecards (run_id, profile_id, baseline_run_id, input_signature, overall_pass, scorecard_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		card.RunID, card.ProfileID, nullableString(card.BaselineRunID), card.InputSignature, pass, card.JSON, formatTime(created)); err != nil {
		return fmt.Errorf("record scorecard: %w", err)
	}
	return nil
}

// LatestScorecard returns the newest scorecard of runID, or nil.
func (s *Store) LatestScorecard(ctx context.Context, runID string) (*Scorecard, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, profile_id, baseline_run_id, input_signature, overall_pass, scorecard_json, created_at
         FROM scorecards WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID)
	var (
		card     Scorecard
		baseline sql.NullString
		pass     int
		created  sql.NullString
	)
	err := row.Scan(&card.ID, &card.RunID, &card.ProfileID, &baseline, &card.InputSignature, &pass, &card.JSON, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest scorecard: %w", err)
	}
	card.BaselineRunID = baseline.String
	card.OverallPass = pass == 1
	card.CreatedAt = parseTime(created)
	return &card, nil
}
