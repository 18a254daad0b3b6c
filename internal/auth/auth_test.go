package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/config"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testKey = "operator-key"

type recordedEvent struct {
	eventType string
	severity  domain.EventSeverity
}

type fakeRecorder struct{ events []recordedEvent }

func (r *fakeRecorder) Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...audit.EventOption) error {
	r.events = append(r.events, recordedEvent{eventType: eventType, severity: severity})
	return nil
}

func setupTestAuth(t *testing.T) (*Service, *fakeRecorder) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)

	rec := &fakeRecorder{}
	cfg := &config.AuthConfig{
		JWTSecret:       "test-secret",
		TokenExpiry:     time.Hour,
		OperatorKeyHash: string(hash),
	}
	return New(cfg, rec), rec
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("ValidKey", func(t *testing.T) {
		svc, rec := setupTestAuth(t)

		tok, err := svc.Login(ctx, "ops", testKey, "127.0.0.1")
		require.NoError(t, err)
		assert.NotEmpty(t, tok.Token)
		assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

		claims, err := svc.ValidateToken(tok.Token)
		require.NoError(t, err)
		assert.Equal(t, "ops", claims.Operator)
		assert.Equal(t, "ops", claims.Subject)
		assert.NotEmpty(t, claims.ID)

		require.Len(t, rec.events, 1)
		assert.Equal(t, audit.EventOperatorLogin, rec.events[0].eventType)
	})

	t.Run("WrongKey", func(t *testing.T) {
		svc, rec := setupTestAuth(t)

		_, err := svc.Login(ctx, "ops", "guess", "10.0.0.1")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		require.Len(t, rec.events, 1)
		assert.Equal(t, audit.EventOperatorLoginFailed, rec.events[0].eventType)
		assert.Equal(t, domain.SeverityWarning, rec.events[0].severity)
	})

	t.Run("Disabled", func(t *testing.T) {
		svc := New(&config.AuthConfig{JWTSecret: "s", TokenExpiry: time.Hour}, nil)
		_, err := svc.Login(ctx, "ops", testKey, "")
		assert.ErrorIs(t, err, ErrDisabled)
	})
}

func TestValidateToken(t *testing.T) {
	ctx := context.Background()

	t.Run("Expired", func(t *testing.T) {
		svc, _ := setupTestAuth(t)
		tok, err := svc.Login(ctx, "ops", testKey, "")
		require.NoError(t, err)

		svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err = svc.ValidateToken(tok.Token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("OtherSecret", func(t *testing.T) {
		svc, _ := setupTestAuth(t)
		other := New(&config.AuthConfig{JWTSecret: "other", TokenExpiry: time.Hour, OperatorKeyHash: svc.config.OperatorKeyHash}, nil)

		tok, err := other.Login(ctx, "ops", testKey, "")
		require.NoError(t, err)
		_, err = svc.ValidateToken(tok.Token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("UnsignedToken", func(t *testing.T) {
		svc, _ := setupTestAuth(t)
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Operator: "ops"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.ValidateToken(unsigned)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Garbage", func(t *testing.T) {
		svc, _ := setupTestAuth(t)
		_, err := svc.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestHashKey(t *testing.T) {
	hash, err := HashKey(testKey)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(testKey)))
}
