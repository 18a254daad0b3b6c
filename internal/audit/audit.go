// Package audit records significant orchestration events and the journal of
// settled spins.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/session"
	"github.com/google/uuid"
)

// Event types
const (
	EventBackendRetry        = "backend_retry"
	EventBackendFallback     = "backend_fallback"
	EventBalanceCorrected    = "balance_corrected"
	EventInsufficientBalance = "insufficient_balance"
	EventAutoplayStarted     = "autoplay_started"
	EventAutoplayStopped     = "autoplay_stopped"
	EventBonusEntered        = "bonus_entered"
	EventBonusExited         = "bonus_exited"
	EventBonusAborted        = "bonus_aborted"
	EventLargeWin            = "large_win"
	EventSessionResumed      = "session_resumed"
	EventSystemError         = "system_error"
	EventOperatorLogin       = "operator_login"
	EventOperatorLoginFailed = "operator_login_failed"
)

// Recorder logs significant events
type Recorder interface {
	Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) error
}

// Service provides audit logging functionality
type Service struct {
	db *sql.DB
}

// New creates a new audit service
func New(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records a significant event
func (s *Service) LogEvent(ctx context.Context, event *domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var data interface{}
	if len(event.Data) > 0 {
		data = string(event.Data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, severity, timestamp, round_id, session_id, description, data, component)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, event.Type, event.Severity, event.Timestamp, event.RoundID, event.SessionID,
		event.Description, data, event.Component)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Log is a convenience method for logging events
func (s *Service) Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) error {
	return s.LogEvent(ctx, Build(eventType, severity, description, data, opts...))
}

// Build assembles an event without storing it
func Build(eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) *domain.AuditEvent {
	event := &domain.AuditEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Description: description,
		Component:   "orchestrator",
	}

	if data != nil {
		jsonData, err := json.Marshal(data)
		if err == nil {
			event.Data = jsonData
		}
	}

	for _, opt := range opts {
		opt(event)
	}
	return event
}

// EventOption is a functional option for configuring audit events
type EventOption func(*domain.AuditEvent)

// WithRound sets the backend round ID for the event
func WithRound(roundID string) EventOption {
	return func(e *domain.AuditEvent) {
		if roundID != "" {
			e.RoundID = &roundID
		}
	}
}

// WithSession sets the spin session ID for the event
func WithSession(id session.ID) EventOption {
	return func(e *domain.AuditEvent) {
		if id != 0 {
			v := uint64(id)
			e.SessionID = &v
		}
	}
}

// WithComponent sets the component for the event
func WithComponent(component string) EventOption {
	return func(e *domain.AuditEvent) {
		e.Component = component
	}
}

// GetEvents retrieves audit events with optional filtering
func (s *Service) GetEvents(ctx context.Context, filter *EventFilter) ([]*domain.AuditEvent, error) {
	query := `SELECT id, type, severity, timestamp, round_id, session_id, description, data, component
			  FROM audit_events WHERE 1=1`
	args := []interface{}{}
	paramIdx := 1

	if filter != nil {
		if filter.Type != "" {
			query += fmt.Sprintf(" AND type = $%d", paramIdx)
			args = append(args, filter.Type)
			paramIdx++
		}
		if filter.RoundID != "" {
			query += fmt.Sprintf(" AND round_id = $%d", paramIdx)
			args = append(args, filter.RoundID)
			paramIdx++
		}
		if !filter.From.IsZero() {
			query += fmt.Sprintf(" AND timestamp >= $%d", paramIdx)
			args = append(args, filter.From)
			paramIdx++
		}
		if !filter.To.IsZero() {
			query += fmt.Sprintf(" AND timestamp <= $%d", paramIdx)
			args = append(args, filter.To)
			paramIdx++
		}
	}

	query += " ORDER BY timestamp DESC"

	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", paramIdx)
		args = append(args, filter.Limit)
	} else {
		query += " LIMIT 100"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		var roundID, data sql.NullString
		var sessionID sql.NullInt64

		err := rows.Scan(&event.ID, &event.Type, &event.Severity, &event.Timestamp,
			&roundID, &sessionID, &event.Description, &data, &event.Component)
		if err != nil {
			return nil, err
		}

		if roundID.Valid {
			event.RoundID = &roundID.String
		}
		if sessionID.Valid {
			v := uint64(sessionID.Int64)
			event.SessionID = &v
		}
		if data.Valid && data.String != "" {
			event.Data = json.RawMessage(data.String)
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

// EventFilter defines criteria for filtering audit events
type EventFilter struct {
	Type    string
	RoundID string
	From    time.Time
	To      time.Time
	Limit   int
}

// Discard drops every event and journal entry. Used when no database is configured.
type Discard struct{}

// Log implements Recorder
func (Discard) Log(context.Context, string, domain.EventSeverity, string, interface{}, ...EventOption) error {
	return nil
}

// RecordSpin implements the journal
func (Discard) RecordSpin(context.Context, *domain.SpinRecord) error {
	return nil
}
