package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// CallAPI is the slice of the vendor REST API reconciliation needs.
type CallAPI interface {
	GetCall(ctx context.Context, callID string) (Call, error)
	GetPhoneNumber(ctx context.Context, phoneNumberID string) (PhoneNumber, error)
}

var ErrNotFound = errors.New("vendor resource not found")

// APIError is a non-2xx vendor response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vapi status %d: %s", e.StatusCode, e.Body)
}

type VapiClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// VapiClient calls the vendor REST API with a bearer key.
type VapiClient struct {
	client *resty.Client
}

func NewVapiClient(cfg VapiClientConfig) *VapiClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	return &VapiClient{client: c}
}

func (c *VapiClient) GetCall(ctx context.Context, callID string) (Call, error) {
	if callID == "" {
		return Call{}, fmt.Errorf("call id is required")
	}
	var call Call
	if err := c.get(ctx, "/call/{id}", callID, &call); err != nil {
		return Call{}, err
	}
	return call, nil
}

func (c *VapiClient) GetPhoneNumber(ctx context.Context, phoneNumberID string) (PhoneNumber, error) {
	if phoneNumberID == "" {
		return PhoneNumber{}, fmt.Errorf("phone number id is required")
	}
	var pn PhoneNumber
	if err := c.get(ctx, "/phone-number/{id}", phoneNumberID, &pn); err != nil {
		return PhoneNumber{}, err
	}
	return pn, nil
}

func (c *VapiClient) get(ctx context.Context, path, id string, out any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("vapi request: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
