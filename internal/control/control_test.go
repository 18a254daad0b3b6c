package control

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/database"
	"github.com/alexbotov/spinflow/internal/domain"
)

type memoryStore struct {
	saved   *Status
	saveErr error
}

func (m *memoryStore) Load(ctx context.Context) (*Status, error) {
	return m.saved, nil
}

func (m *memoryStore) Save(ctx context.Context, s *Status) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *s
	m.saved = &cp
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...audit.EventOption) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, eventType)
	return nil
}

func TestGamingEnabled(t *testing.T) {
	svc := New(nil, nil)

	t.Run("InitiallyEnabled", func(t *testing.T) {
		if !svc.IsGamingEnabled() {
			t.Error("Gaming should be enabled by default")
		}
		if err := svc.Check(); err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
	})
}

func TestDisableAllGaming(t *testing.T) {
	store := &memoryStore{}
	rec := &eventLog{}
	svc := New(store, rec)
	ctx := context.Background()

	stopped := 0
	svc.OnDisable(func(context.Context) { stopped++ })

	t.Run("DisableGaming", func(t *testing.T) {
		if err := svc.DisableAllGaming(ctx, "Maintenance", "ops"); err != nil {
			t.Fatalf("Failed to disable gaming: %v", err)
		}
		if svc.IsGamingEnabled() {
			t.Error("Gaming should be disabled")
		}
		if !errors.Is(svc.Check(), ErrGamingDisabled) {
			t.Errorf("Expected ErrGamingDisabled, got %v", svc.Check())
		}
		if stopped != 1 {
			t.Errorf("Expected disable hook to run once, ran %d times", stopped)
		}

		st := svc.GetStatus()
		if st.DisabledBy != "ops" || st.DisabledReason != "Maintenance" || st.DisabledAt == nil {
			t.Errorf("Unexpected status: %+v", st)
		}
		if store.saved == nil || store.saved.GamingEnabled {
			t.Error("Disabled state should be persisted")
		}
	})

	t.Run("EnableGaming", func(t *testing.T) {
		if err := svc.EnableAllGaming(ctx, "ops"); err != nil {
			t.Fatalf("Failed to enable gaming: %v", err)
		}
		if !svc.IsGamingEnabled() {
			t.Error("Gaming should be enabled")
		}
		if st := svc.GetStatus(); st.DisabledAt != nil || st.DisabledBy != "" {
			t.Errorf("Disable details should be cleared, got %+v", st)
		}
		if stopped != 1 {
			t.Error("Enable must not run disable hooks")
		}
	})

	t.Run("Audited", func(t *testing.T) {
		want := []string{EventGamingDisabled, EventGamingEnabled}
		if len(rec.events) != len(want) {
			t.Fatalf("Expected %v, got %v", want, rec.events)
		}
		for i := range want {
			if rec.events[i] != want[i] {
				t.Errorf("Event %d: expected %s, got %s", i, want[i], rec.events[i])
			}
		}
	})
}

func TestPersistFailure(t *testing.T) {
	store := &memoryStore{saveErr: errors.New("connection reset")}
	svc := New(store, nil)

	if err := svc.DisableAllGaming(context.Background(), "Maintenance", "ops"); err == nil {
		t.Fatal("Expected error when the store fails")
	}
	if !svc.IsGamingEnabled() {
		t.Error("State must not change when it could not be persisted")
	}
}

func TestLoadState(t *testing.T) {
	ctx := context.Background()

	t.Run("NeverChanged", func(t *testing.T) {
		svc := New(&memoryStore{}, nil)
		if err := svc.LoadState(ctx); err != nil {
			t.Fatalf("LoadState failed: %v", err)
		}
		if !svc.IsGamingEnabled() {
			t.Error("Gaming should stay enabled")
		}
	})

	t.Run("DisabledBeforeRestart", func(t *testing.T) {
		store := &memoryStore{saved: &Status{GamingEnabled: false, DisabledBy: "ops"}}
		svc := New(store, nil)
		if err := svc.LoadState(ctx); err != nil {
			t.Fatalf("LoadState failed: %v", err)
		}
		if svc.IsGamingEnabled() {
			t.Error("Gaming should be disabled after reload")
		}
	})
}

func TestSQLStore(t *testing.T) {
	dsn := os.Getenv("SPINFLOW_TEST_DSN")
	if dsn == "" {
		dsn = "host=localhost dbname=spinflow_test sslmode=disable"
	}
	db, err := database.New("postgres", dsn)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if err := db.CleanData(); err != nil {
		t.Fatalf("Failed to clean data: %v", err)
	}
	defer db.CleanData()

	ctx := context.Background()
	store := NewSQLStore(db.DB)

	st, err := store.Load(ctx)
	if err != nil || st != nil {
		t.Fatalf("Expected no state, got %+v, %v", st, err)
	}

	svc := New(store, nil)
	if err := svc.DisableAllGaming(ctx, "Regulator request", "ops"); err != nil {
		t.Fatalf("Failed to disable gaming: %v", err)
	}

	reloaded := New(store, nil)
	if err := reloaded.LoadState(ctx); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if reloaded.IsGamingEnabled() {
		t.Error("Disabled state should survive a restart")
	}
	if got := reloaded.GetStatus().DisabledReason; got != "Regulator request" {
		t.Errorf("Expected reason to persist, got %q", got)
	}

	if err := svc.EnableAllGaming(ctx, "ops"); err != nil {
		t.Fatalf("Failed to enable gaming: %v", err)
	}
	if err := reloaded.LoadState(ctx); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if !reloaded.IsGamingEnabled() {
		t.Error("Enabled state should survive a restart")
	}
}
