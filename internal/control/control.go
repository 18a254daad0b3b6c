// Package control provides the operator gaming switch
//
// Key Requirements:
//   - Operator must be able to disable all gaming on demand
//   - A disable stops autoplay; a spin or bonus round already paid for
//     runs to completion
//   - The switch survives restarts when a store is configured
//   - All state changes must be audited
package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/domain"
	log "github.com/sirupsen/logrus"
)

var ErrGamingDisabled = errors.New("gaming is currently disabled")

// Audit event types
const (
	EventGamingDisabled = "gaming_disabled"
	EventGamingEnabled  = "gaming_enabled"
)

// Status is the current state of the switch
type Status struct {
	GamingEnabled  bool       `json:"gaming_enabled"`
	DisabledAt     *time.Time `json:"disabled_at,omitempty"`
	DisabledBy     string     `json:"disabled_by,omitempty"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
}

// Store persists the switch
type Store interface {
	Load(ctx context.Context) (*Status, error)
	Save(ctx context.Context, s *Status) error
}

// Service provides gaming system control functionality
type Service struct {
	store Store
	audit audit.Recorder
	now   func() time.Time

	mu        sync.RWMutex
	status    Status
	onDisable []func(ctx context.Context)
}

// New creates a new control service. store may be nil, in which case the
// switch lives in memory only.
func New(store Store, rec audit.Recorder) *Service {
	if rec == nil {
		rec = audit.Discard{}
	}
	return &Service{
		store:  store,
		audit:  rec,
		now:    func() time.Time { return time.Now().UTC() },
		status: Status{GamingEnabled: true},
	}
}

// OnDisable registers f to run after every disable
func (s *Service) OnDisable(f func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisable = append(s.onDisable, f)
}

// DisableAllGaming stops all gaming activity
func (s *Service) DisableAllGaming(ctx context.Context, reason, authorizedBy string) error {
	now := s.now()
	next := Status{
		GamingEnabled:  false,
		DisabledAt:     &now,
		DisabledBy:     authorizedBy,
		DisabledReason: reason,
	}
	if err := s.apply(ctx, next); err != nil {
		return err
	}

	log.WithFields(log.Fields{"by": authorizedBy, "reason": reason}).Warn("Gaming disabled")
	if err := s.audit.Log(ctx, EventGamingDisabled, domain.SeverityCritical,
		fmt.Sprintf("All gaming disabled: %s", reason),
		map[string]interface{}{
			"authorized_by": authorizedBy,
			"reason":        reason,
		},
		audit.WithComponent("control")); err != nil {
		log.WithError(err).Warn("Failed to audit gaming disable")
	}

	s.mu.RLock()
	hooks := append([]func(context.Context){}, s.onDisable...)
	s.mu.RUnlock()
	for _, f := range hooks {
		f(ctx)
	}
	return nil
}

// EnableAllGaming resumes gaming operations
func (s *Service) EnableAllGaming(ctx context.Context, authorizedBy string) error {
	if err := s.apply(ctx, Status{GamingEnabled: true}); err != nil {
		return err
	}

	log.WithField("by", authorizedBy).Info("Gaming enabled")
	if err := s.audit.Log(ctx, EventGamingEnabled, domain.SeverityInfo,
		"All gaming enabled",
		map[string]interface{}{"authorized_by": authorizedBy},
		audit.WithComponent("control")); err != nil {
		log.WithError(err).Warn("Failed to audit gaming enable")
	}
	return nil
}

// apply persists next before making it visible
func (s *Service) apply(ctx context.Context, next Status) error {
	if s.store != nil {
		if err := s.store.Save(ctx, &next); err != nil {
			return fmt.Errorf("failed to persist gaming state: %w", err)
		}
	}
	s.mu.Lock()
	s.status = next
	s.mu.Unlock()
	return nil
}

// IsGamingEnabled checks if gaming is currently enabled
func (s *Service) IsGamingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.GamingEnabled
}

// Check returns ErrGamingDisabled while gaming is off
func (s *Service) Check() error {
	if !s.IsGamingEnabled() {
		return ErrGamingDisabled
	}
	return nil
}

// GetStatus returns a copy of the current status
func (s *Service) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LoadState loads persisted state on startup
func (s *Service) LoadState(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	st, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load gaming state: %w", err)
	}
	if st == nil {
		return nil
	}
	s.mu.Lock()
	s.status = *st
	s.mu.Unlock()
	return nil
}

// SQLStore keeps the switch in the system_state table
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store on db
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Load returns nil when the switch was never changed
func (st *SQLStore) Load(ctx context.Context) (*Status, error) {
	var (
		value     string
		updatedAt time.Time
		by        sql.NullString
		reason    sql.NullString
	)
	err := st.db.QueryRowContext(ctx, `
		SELECT value, updated_at, updated_by, reason FROM system_state WHERE key = 'gaming_enabled'
	`).Scan(&value, &updatedAt, &by, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if value != "false" {
		return &Status{GamingEnabled: true}, nil
	}
	return &Status{
		GamingEnabled:  false,
		DisabledAt:     &updatedAt,
		DisabledBy:     by.String,
		DisabledReason: reason.String,
	}, nil
}

// Save upserts the switch
func (st *SQLStore) Save(ctx context.Context, s *Status) error {
	value := "true"
	updatedAt := time.Now().UTC()
	if !s.GamingEnabled {
		value = "false"
		if s.DisabledAt != nil {
			updatedAt = *s.DisabledAt
		}
	}
	_, err := st.db.ExecContext(ctx, `
		INSERT INTO system_state (key, value, updated_at, updated_by, reason)
		VALUES ('gaming_enabled', $1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = $1, updated_at = $2, updated_by = $3, reason = $4
	`, value, updatedAt, s.DisabledBy, s.DisabledReason)
	return err
}
