package spinapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alexbotov/spinflow/internal/domain"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is a game backend API client
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(config *ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// NewClientWithHTTPClient creates a new API client with a custom HTTP client
func NewClientWithHTTPClient(config *ClientConfig, httpClient *http.Client) *Client {
	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// computeHMAC computes the HMAC-SHA256 signature for the request body
func (c *Client) computeHMAC(body []byte) string {
	h := hmac.New(sha256.New, []byte(c.config.APISecret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest performs a signed POST, retrying transport errors and 5xx
// responses up to RetryCount times
func (c *Client) doRequest(ctx context.Context, endpoint string, reqBody interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	signature := c.computeHMAC(bodyBytes)
	url := c.config.BaseURL + endpoint

	var lastErr error
	attempts := c.config.RetryCount + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.WithFields(log.Fields{"endpoint": endpoint, "attempt": i + 1}).WithError(lastErr).Debug("Retrying backend request")
			if err := c.wait(ctx); err != nil {
				return err
			}
		}

		respBody, status, err := c.send(ctx, url, bodyBytes, signature)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return err
			}
			continue
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			if status >= http.StatusInternalServerError {
				lastErr = &StatusError{StatusCode: status}
				continue
			}
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if status >= http.StatusInternalServerError && !hasError(result) {
			lastErr = &StatusError{StatusCode: status}
			continue
		}
		return nil
	}

	return fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) send(ctx context.Context, url string, body []byte, signature string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("x-api-hmac", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.config.RetryDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.config.RetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type errorCarrier interface {
	apiError() *APIError
}

func (r *Response[T]) apiError() *APIError { return r.Error }

func hasError(result interface{}) bool {
	if ec, ok := result.(errorCarrier); ok {
		return ec.apiError() != nil
	}
	return false
}

// DoSpin resolves one paid spin
func (c *Client) DoSpin(ctx context.Context, bet decimal.Decimal, buyFeature, enhancedBet bool) (*domain.SpinResult, error) {
	req := &SpinRequest{
		SessionToken: c.config.SessionToken,
		Bet:          bet,
		BuyFeature:   buyFeature,
		EnhancedBet:  enhancedBet,
	}

	var resp Response[domain.SpinResult]
	if err := c.doRequest(ctx, "/spin", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, &APIError{Code: ErrUnexpectedError, Message: "empty spin result"}
	}

	return resp.Result, nil
}

// SimulateFreeSpin plays the next free spin of the bonus round in progress
func (c *Client) SimulateFreeSpin(ctx context.Context) (*domain.SpinResult, error) {
	req := &SessionRequest{SessionToken: c.config.SessionToken}

	var resp Response[domain.SpinResult]
	if err := c.doRequest(ctx, "/free-spin", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, &APIError{Code: ErrNoFreeSpins, Message: "empty free spin result"}
	}

	return resp.Result, nil
}

// GetBalance retrieves the player's authoritative balance
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	req := &SessionRequest{SessionToken: c.config.SessionToken}

	var resp Response[BalanceResult]
	if err := c.doRequest(ctx, "/balance", req, &resp); err != nil {
		return decimal.Zero, err
	}

	if resp.Error != nil {
		return decimal.Zero, resp.Error
	}
	if resp.Result == nil {
		return decimal.Zero, &APIError{Code: ErrUnexpectedError, Message: "empty balance result"}
	}

	return resp.Result.Balance, nil
}

// GetCurrentSpinData returns the unfinished round, or nil when there is none
func (c *Client) GetCurrentSpinData(ctx context.Context) (*domain.SpinResult, error) {
	req := &SessionRequest{SessionToken: c.config.SessionToken}

	var resp Response[CurrentSpinResult]
	if err := c.doRequest(ctx, "/current-spin", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, nil
	}

	return resp.Result.Spin, nil
}
