package spinapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/shopspring/decimal"
)

// Error codes returned by the backend
const (
	ErrUnexpectedError     = "UNEXPECTED_ERROR"
	ErrNotAuthorized       = "NOT_AUTHORIZED"
	ErrInvalidSessionToken = "INVALID_SESSION_TOKEN"
	ErrInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrInvalidBet          = "INVALID_BET"
	ErrNoFreeSpins         = "NO_FREE_SPINS"
	ErrRoundInProgress     = "ROUND_IN_PROGRESS"
)

// APIError represents an error response from the API
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// IsCode reports whether err is an *APIError with the given code
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// StatusError is returned for a 5xx response without an API error body
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// Response wraps the API response with either result or error
type Response[T any] struct {
	Result *T        `json:"result,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// SpinRequest is the request body for /spin
type SpinRequest struct {
	SessionToken string          `json:"sessionToken"`
	Bet          decimal.Decimal `json:"bet"`
	BuyFeature   bool            `json:"isBuyFeature"`
	EnhancedBet  bool            `json:"isEnhancedBet"`
}

// SessionRequest is the request body for endpoints that only need the session
type SessionRequest struct {
	SessionToken string `json:"sessionToken"`
}

// BalanceResult is the result of /balance
type BalanceResult struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// CurrentSpinResult is the result of /current-spin. Spin is nil when no
// round is in progress.
type CurrentSpinResult struct {
	Spin *domain.SpinResult `json:"spin,omitempty"`
}

// ClientConfig holds the configuration for the client
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	APISecret    string
	SessionToken string
	Timeout      time.Duration
	// RetryCount is the number of extra attempts after a transport error or
	// a 5xx response
	RetryCount int
	RetryDelay time.Duration
}

// DefaultConfig returns a default client configuration
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:    30 * time.Second,
		RetryCount: 0,
		RetryDelay: 200 * time.Millisecond,
	}
}
