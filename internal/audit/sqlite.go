package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/storage"
)

// Migration creates the decision and explanation tables.
var Migration = storage.Migration{
	Name: "audit",
	Schema: `
	CREATE TABLE IF NOT EXISTS routing_decisions (
		id TEXT PRIMARY KEY,
		referral_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		candidate_ids TEXT NOT NULL,
		threshold REAL NOT NULL,
		top_probability REAL,
		urgency TEXT,
		decided_at_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_referral ON routing_decisions(referral_id, decided_at_ns);
	CREATE INDEX IF NOT EXISTS idx_decisions_kind ON routing_decisions(kind);

	CREATE TABLE IF NOT EXISTS match_explanations (
		decision_id TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (decision_id, candidate_id),
		FOREIGN KEY (decision_id) REFERENCES routing_decisions(id) ON DELETE CASCADE
	);
	`,
}

// SQLiteSink stores records in SQLite. A referral's current state is its
// most recent decision.
type SQLiteSink struct {
	db     *sql.DB
	ownsDB bool
}

// NewSQLiteSink opens or creates the database at dbPath.
func NewSQLiteSink(ctx context.Context, dbPath string) (*SQLiteSink, error) {
	db, err := storage.Open(ctx, dbPath, Migration)
	if err != nil {
		return nil, err
	}
	return &SQLiteSink{db: db, ownsDB: true}, nil
}

// NewSQLiteSinkFromDB uses an already open database. Close leaves db open.
func NewSQLiteSinkFromDB(ctx context.Context, db *sql.DB) (*SQLiteSink, error) {
	if err := storage.Migrate(ctx, db, Migration); err != nil {
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

// RecordDecision stores d. Recording the same decision again replaces it.
func (s *SQLiteSink) RecordDecision(ctx context.Context, d *models.RoutingDecision, matches []models.CalibratedMatch) error {
	ids, err := json.Marshal(d.CandidateIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate ids: %w", err)
	}
	var top any
	if len(matches) > 0 {
		top = matches[0].Probability
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO routing_decisions
		 (id, referral_id, kind, candidate_ids, threshold, top_probability, urgency, decided_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ReferralID, string(d.Kind), string(ids), d.Threshold, top, string(d.Urgency), d.DecidedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record decision %s: %w", d.ID, err)
	}
	return nil
}

// RecordExplanations stores explanations in ranking order in one transaction.
func (s *SQLiteSink) RecordExplanations(ctx context.Context, decisionID string, explanations []models.Explanation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO match_explanations (decision_id, candidate_id, rank, payload)
		 VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range explanations {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal explanation: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, decisionID, e.CandidateID, i, string(payload)); err != nil {
			return fmt.Errorf("failed to record explanation for %s: %w", e.CandidateID, err)
		}
	}
	return tx.Commit()
}

const latestDecisions = `
	SELECT id, referral_id, kind, candidate_ids, threshold, urgency, decided_at_ns
	FROM (
		SELECT *, ROW_NUMBER() OVER (PARTITION BY referral_id ORDER BY decided_at_ns DESC, rowid DESC) AS rn
		FROM routing_decisions
	)
	WHERE rn = 1`

// HighTouchQueue returns referrals whose latest decision is HIGH_TOUCH,
// oldest first.
func (s *SQLiteSink) HighTouchQueue(ctx context.Context, limit int) ([]*models.RoutingDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		latestDecisions+` AND kind = ? ORDER BY decided_at_ns ASC, id ASC LIMIT ?`,
		string(models.DecisionHighTouch), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RoutingDecision
	for rows.Next() {
		var (
			d       models.RoutingDecision
			kind    string
			ids     string
			urgency sql.NullString
			at      int64
		)
		if err := rows.Scan(&d.ID, &d.ReferralID, &kind, &ids, &d.Threshold, &urgency, &at); err != nil {
			return nil, err
		}
		d.Kind = models.DecisionKind(kind)
		d.Urgency = models.Urgency(urgency.String)
		d.DecidedAt = time.Unix(0, at).UTC()
		if err := json.Unmarshal([]byte(ids), &d.CandidateIDs); err != nil {
			return nil, fmt.Errorf("decision %s: %w", d.ID, err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Explanations returns the stored explanations of a decision in ranking order.
func (s *SQLiteSink) Explanations(ctx context.Context, decisionID string) ([]models.Explanation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM match_explanations WHERE decision_id = ? ORDER BY rank`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Explanation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e models.Explanation
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RoutingStats summarises the latest decision of every referral.
type RoutingStats struct {
	TotalReferrals      int64   `json:"total_referrals"`
	AutoRouted          int64   `json:"auto_routed"`
	HighTouchRouted     int64   `json:"high_touch_routed"`
	AutoPercentage      float64 `json:"auto_percentage"`
	HighTouchPercentage float64 `json:"high_touch_percentage"`
}

// RoutingStats counts referrals by their latest decision.
func (s *SQLiteSink) RoutingStats(ctx context.Context) (*RoutingStats, error) {
	var st RoutingStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0)
		 FROM (`+latestDecisions+`)`,
		string(models.DecisionAutoMatch), string(models.DecisionHighTouch),
	).Scan(&st.TotalReferrals, &st.AutoRouted, &st.HighTouchRouted)
	if err != nil {
		return nil, err
	}
	if st.TotalReferrals > 0 {
		st.AutoPercentage = float64(st.AutoRouted) / float64(st.TotalReferrals) * 100
		st.HighTouchPercentage = float64(st.HighTouchRouted) / float64(st.TotalReferrals) * 100
	}
	return &st, nil
}

// Close closes the database connection if the sink opened it.
func (s *SQLiteSink) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
