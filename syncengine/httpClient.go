package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/apperr"
	"bitbucket.org/mmdatafocus/pos_sync/config"
	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/utils"
)

// HTTPClient talks to the remote sync service and the shared tenant
// directory. It implements Pusher, Puller and the session directory.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   *time.Ticker
}

var (
	_ Pusher = (*HTTPClient)(nil)
	_ Puller = (*HTTPClient)(nil)
)

// NewHTTPClient builds a client from the SYNC_API_* settings.
func NewHTTPClient(cfg *config.Config) (*HTTPClient, error) {
	return newHTTPClient(cfg.SyncAPIBaseURL, cfg.SyncAPIKey, cfg.SyncAPIKeyHeader, cfg.SyncRateLimitPerMin)
}

func newHTTPClient(baseURL, apiKey, apiKeyHeader string, ratePerMin int) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("sync api base url is empty")
	}
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	if ratePerMin <= 0 {
		ratePerMin = 120
	}
	return &HTTPClient{
		baseURL:   baseURL,
		apiKey:    strings.TrimSpace(apiKey),
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.NewTicker(time.Minute / time.Duration(ratePerMin)),
	}, nil
}

// Close stops the rate limiter.
func (c *HTTPClient) Close() {
	c.limiter.Stop()
}

// Push posts one outbox entry. A 409 means the remote already applied this
// idempotency key and counts as confirmation.
func (c *HTTPClient) Push(ctx context.Context, msg PushMessage) error {
	body, err := utils.MarshalToJSON(msg)
	if err != nil {
		return err
	}
	path := "/v1/tenants/" + url.PathEscape(msg.TenantId) + "/outbox"
	status, _, err := c.do(ctx, http.MethodPost, path, nil, body, map[string]string{
		"Idempotency-Key": msg.IdempotencyKey,
	})
	if err != nil {
		if status == http.StatusConflict {
			return nil
		}
		return err
	}
	return nil
}

func (c *HTTPClient) Changes(ctx context.Context, tenantID, cursor string, limit int) (*ChangesPage, error) {
	params := url.Values{}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var page ChangesPage
	if err := c.getJSON(ctx, "/v1/tenants/"+url.PathEscape(tenantID)+"/changes", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) Snapshot(ctx context.Context, tenantID, pageToken string, limit int) (*SnapshotPage, error) {
	params := url.Values{}
	if pageToken != "" {
		params.Set("page_token", pageToken)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var page SnapshotPage
	if err := c.getJSON(ctx, "/v1/tenants/"+url.PathEscape(tenantID)+"/snapshot", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FindTenantUserByEmail returns utils.ErrorRecordNotFound for unknown users.
func (c *HTTPClient) FindTenantUserByEmail(ctx context.Context, email string) (*models.TenantUser, error) {
	params := url.Values{"email": {models.NormalizeEmail(email)}}
	var user models.TenantUser
	if err := c.getJSON(ctx, "/v1/directory/users", params, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindSubscriptionByTenantID returns utils.ErrorRecordNotFound when the
// tenant has no subscription.
func (c *HTTPClient) FindSubscriptionByTenantID(ctx context.Context, tenantID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := c.getJSON(ctx, "/v1/directory/tenants/"+url.PathEscape(tenantID)+"/subscription", nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	status, body, err := c.do(ctx, http.MethodGet, path, params, nil, nil)
	if err != nil {
		if status == http.StatusNotFound {
			return utils.ErrorRecordNotFound
		}
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Application("syncengine.decode", err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, payload []byte, headers map[string]string) (int, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.limiter.C:
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHdr, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, body, statusError(method+" "+path, resp.StatusCode, body)
	}
	return resp.StatusCode, body, nil
}

// statusError maps gateway failures to connectivity and everything else to
// an application error.
func statusError(op string, status int, body []byte) error {
	err := fmt.Errorf("sync api error %d: %s", status, strings.TrimSpace(string(body)))
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return apperr.Connectivity(op, err)
	default:
		return apperr.Application(op, err)
	}
}
