package audit

import (
	"context"
	"fmt"

	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RecordSpin stores a settled spin and sets rec.ID. Free spins of one bonus
// round may share a round id; each is its own row. Recording the same rec
// twice keeps the first row.
func (s *Service) RecordSpin(ctx context.Context, rec *domain.SpinRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO spin_rounds (id, round_id, session_id, mode, bet, effective_bet, win, tier, fallback, balance_after, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.RoundID, int64(rec.SessionID), string(rec.Mode), rec.Bet, rec.EffectiveBet, rec.Win,
		rec.Tier, rec.Fallback, rec.BalanceAfter, rec.SettledAt)
	if err != nil {
		return fmt.Errorf("failed to record spin: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		log.WithFields(log.Fields{"id": rec.ID, "round_id": rec.RoundID}).Debug("Spin already recorded")
	}
	return nil
}

// GetSpins returns the most recent settled spins
func (s *Service) GetSpins(ctx context.Context, limit int) ([]*domain.SpinRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, session_id, mode, bet, effective_bet, win, tier, fallback, balance_after, settled_at
		FROM spin_rounds ORDER BY settled_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query spins: %w", err)
	}
	defer rows.Close()

	var records []*domain.SpinRecord
	for rows.Next() {
		var rec domain.SpinRecord
		var sessionID int64
		var mode string
		if err := rows.Scan(&rec.ID, &rec.RoundID, &sessionID, &mode, &rec.Bet, &rec.EffectiveBet, &rec.Win,
			&rec.Tier, &rec.Fallback, &rec.BalanceAfter, &rec.SettledAt); err != nil {
			return nil, err
		}
		rec.SessionID = uint64(sessionID)
		rec.Mode = domain.SpinMode(mode)
		records = append(records, &rec)
	}
	return records, rows.Err()
}
