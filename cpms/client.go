// Package cpms is the HTTP client for the external system of record. All
// calls are synchronous request/response; retry and timeout policy belongs
// to this client, not its callers.
package cpms

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
)

// ErrStaleToken is returned when CPMS rejects an update because the
// supplied ordering token no longer matches its current record.
var ErrStaleToken = errors.New("cpms rejected update: stale ordering token")

// APIError is a non-2xx response from the CPMS API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cpms api error %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
}

func NewClient(baseURL string, apiKey string, apiKeyHeader string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("cpms base URL is empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("cpms api key is empty")
	}
	if strings.TrimSpace(apiKeyHeader) == "" {
		apiKeyHeader = "X-API-Key"
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// FetchStudy retrieves the authoritative record for a study along with its
// change log since the given date, capped at maxChangeLogItems entries.
func (c *Client) FetchStudy(ctx context.Context, cpmsID int64, changeLogSince time.Time, maxChangeLogItems int) (*StudyEnvelope, error) {
	params := url.Values{}
	params.Set("changesSince", changeLogSince.Format("2006-01-02"))
	params.Set("maxChanges", strconv.Itoa(maxChangeLogItems))

	var envelope StudyEnvelope
	path := fmt.Sprintf("/api/v1/studies/%d", cpmsID)
	if err := c.do(ctx, http.MethodGet, path, params, nil, &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// ValidateUpdate pre-flights a candidate change and returns the routing
// decision: Direct (apply now) or Proposed (queue for review).
func (c *Client) ValidateUpdate(ctx context.Context, cpmsID int64, candidate UpdateCandidate) (Route, error) {
	var decision struct {
		Route Route `json:"route"`
	}
	path := fmt.Sprintf("/api/v1/studies/%d/update-validation", cpmsID)
	if err := c.do(ctx, http.MethodPost, path, nil, candidate, &decision); err != nil {
		return "", err
	}
	switch decision.Route {
	case RouteDirect, RouteProposed:
		return decision.Route, nil
	default:
		return "", fmt.Errorf("cpms returned unknown route %q", decision.Route)
	}
}

// ApplyUpdate writes a Direct change through to CPMS. currentToken is the
// last ordering token this application observed; CPMS rejects the update
// with a conflict if its record has moved on since.
func (c *Client) ApplyUpdate(ctx context.Context, cpmsID int64, candidate UpdateCandidate, currentToken OrderingToken) (*ApplyResult, error) {
	body := struct {
		UpdateCandidate
		CurrentChangeToken OrderingToken `json:"currentChangeToken"`
	}{UpdateCandidate: candidate, CurrentChangeToken: currentToken}

	var result ApplyResult
	path := fmt.Sprintf("/api/v1/studies/%d", cpmsID)
	if err := c.do(ctx, http.MethodPut, path, nil, body, &result); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", ErrStaleToken, apiErr.Message)
		}
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method string, path string, params url.Values, payload any, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode cpms response: %w", err)
		}
	}
	return nil
}
