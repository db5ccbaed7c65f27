// Package track queries the POS order-tracking endpoint used to resolve
// payment signals that require an explicit follow-up status fetch.
package track

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/dinehub/ordersync/errs"
)

const defaultTimeout = 10 * time.Second

// StatusResponse is the tracking endpoint's reply. Status reports whether the
// payment settled.
type StatusResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
}

// Client fetches payment status over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a tracking client. A nil httpClient gets a default with
// a bounded timeout so a stalled fetch can never hang its caller indefinitely.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// FetchStatus performs one GET against the tracking endpoint with the tenant
// id passed as a header. Any transport failure or non-2xx response comes back
// as a status_fetch error; callers treat that as unknown-therefore-failed.
func (c *Client) FetchStatus(ctx context.Context, orderID, tenantID string) (StatusResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if orderID == "" {
		return StatusResponse{}, errs.New("payment/track", errs.CodeInvalid, errs.WithMessage("order id required"))
	}

	endpoint := fmt.Sprintf("%s/pos/order/track?order_id=%s", c.baseURL, url.QueryEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusResponse{}, errs.New("payment/track", errs.CodeStatusFetch,
			errs.WithMessage("build request"), errs.WithCause(err))
	}
	req.Header.Set("restaurantId", tenantID)

	resp, err := c.http.Do(req)
	if err != nil {
		return StatusResponse{}, errs.New("payment/track", errs.CodeStatusFetch,
			errs.WithMessage("fetch payment status"), errs.WithTenant(tenantID), errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return StatusResponse{}, errs.New("payment/track", errs.CodeStatusFetch,
			errs.WithMessage("tracking endpoint rejected request"),
			errs.WithHTTP(resp.StatusCode), errs.WithTenant(tenantID))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return StatusResponse{}, errs.New("payment/track", errs.CodeStatusFetch,
			errs.WithMessage("read response"), errs.WithCause(err))
	}

	var status StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return StatusResponse{}, errs.New("payment/track", errs.CodeStatusFetch,
			errs.WithMessage("malformed tracking response"), errs.WithCause(err))
	}
	return status, nil
}
