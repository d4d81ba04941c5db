// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CatalogClient issues GET requests against an open-data catalog with bounded retries
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *Logger
}

// NewCatalogClient creates a client for the catalog at baseURL
func NewCatalogClient(baseURL string, cfg CatalogConfig, logger *Logger) *CatalogClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CatalogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// CatalogResult is the outcome of a catalog request.
// Either Err is nil and Value holds the decoded body, or Err says why every attempt failed.
type CatalogResult[T any] struct {
	Value    T
	Attempts int
	Err      error
}

// OK reports whether the request succeeded
func (r CatalogResult[T]) OK() bool {
	return r.Err == nil
}

// Unwrap returns the value or the error
func (r CatalogResult[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// Get requests endpoint below the base URL with query parameters
func Get[T any](ctx context.Context, c *CatalogClient, endpoint string, params url.Values) CatalogResult[T] {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return fetch[T](ctx, c, u)
}

// GetURL requests an absolute URL, as returned in a "next" cursor
func GetURL[T any](ctx context.Context, c *CatalogClient, rawURL string) CatalogResult[T] {
	return fetch[T](ctx, c, rawURL)
}

// fetch runs one initial attempt plus up to maxRetries retries.
// Transport failures and non-200 statuses are retried, decode errors are not.
func fetch[T any](ctx context.Context, c *CatalogClient, u string) CatalogResult[T] {
	maxAttempts := c.maxRetries + 1
	var result CatalogResult[T]
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		value, err := c.do(ctx, u)
		if err == nil {
			if err := json.Unmarshal(value, &result.Value); err != nil {
				result.Err = &FetchError{Endpoint: u, Attempts: attempt, Err: fmt.Errorf("failed to decode response: %w", err)}
				return result
			}
			return result
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() || ctx.Err() != nil {
			break
		}
		if attempt == maxAttempts {
			break
		}

		c.logger.LogRetry(u, attempt, maxAttempts, c.retryDelay, err)
		if err := sleepContext(ctx, c.retryDelay); err != nil {
			lastErr = err
			break
		}
	}

	result.Err = &FetchError{Endpoint: u, Attempts: result.Attempts, Err: lastErr}
	return result
}

// do performs a single GET and returns the body of a 200 response
func (c *CatalogClient) do(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", GetUserAgent())

	c.logger.LogAPIRequest("GET", u)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{
			Endpoint: u,
			Message:  "catalog request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{
			Endpoint: u,
			Message:  "failed to read response body",
			Err:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.LogAPIError(u, resp.StatusCode, fmt.Errorf("%s", truncate(string(body), 200)))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   u,
			Message:    truncate(string(body), 200),
		}
	}

	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// OffsetPager walks a limit/offset endpoint one page at a time
type OffsetPager[T any] struct {
	client   *CatalogClient
	endpoint string
	params   url.Values
	limit    int

	offset int
	page   []T
	total  int
	done   bool
	err    error
}

// NewOffsetPager creates a pager. params are copied.
func NewOffsetPager[T any](client *CatalogClient, endpoint string, params url.Values, limit int) *OffsetPager[T] {
	p := make(url.Values, len(params))
	for k, v := range params {
		p[k] = append([]string(nil), v...)
	}
	return &OffsetPager[T]{
		client:   client,
		endpoint: endpoint,
		params:   p,
		limit:    limit,
	}
}

// Next fetches the next page. It returns false once the last page has been
// read or a request failed; check Err to tell them apart.
func (p *OffsetPager[T]) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}
	if p.page != nil {
		p.offset += len(p.page)
	}

	params := make(url.Values, len(p.params)+2)
	for k, v := range p.params {
		params[k] = v
	}
	params.Set("limit", fmt.Sprint(p.limit))
	params.Set("offset", fmt.Sprint(p.offset))

	res := Get[RecordsResponse[T]](ctx, p.client, p.endpoint, params)
	if !res.OK() {
		p.err = res.Err
		p.page = nil
		return false
	}

	p.page = res.Value.Results
	if p.page == nil {
		p.page = []T{}
	}
	p.total = res.Value.TotalCount
	if len(p.page) < p.limit {
		p.done = true
	}
	return true
}

// Page returns the rows of the current page
func (p *OffsetPager[T]) Page() []T {
	return p.page
}

// Progress returns completion in percent after the current page
func (p *OffsetPager[T]) Progress() float64 {
	if p.total <= 0 {
		return 100
	}
	pct := float64(p.offset+len(p.page)) * 100 / float64(p.total)
	if pct > 100 {
		return 100
	}
	return pct
}

// Total returns the row count reported by the server
func (p *OffsetPager[T]) Total() int {
	return p.total
}

// Err returns the error that stopped the pager, if any
func (p *OffsetPager[T]) Err() error {
	return p.err
}

// CollectAll drains the pager into one slice, in page order
func (p *OffsetPager[T]) CollectAll(ctx context.Context) ([]T, error) {
	var all []T
	for p.Next(ctx) {
		all = append(all, p.Page()...)
	}
	return all, p.Err()
}

// CursorPager follows the "next" links of a data-fair endpoint
type CursorPager[T any] struct {
	client   *CatalogClient
	endpoint string
	params   url.Values
	size     int

	next    string
	started bool
	page    []T
	seen    int
	total   int
	done    bool
	err     error
}

// NewCursorPager creates a pager requesting size rows per page
func NewCursorPager[T any](client *CatalogClient, endpoint string, params url.Values, size int) *CursorPager[T] {
	p := make(url.Values, len(params)+1)
	for k, v := range params {
		p[k] = append([]string(nil), v...)
	}
	p.Set("size", fmt.Sprint(size))
	return &CursorPager[T]{
		client:   client,
		endpoint: endpoint,
		params:   p,
		size:     size,
	}
}

// Next fetches the next page
func (p *CursorPager[T]) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}

	var res CatalogResult[LinesResponse[T]]
	if !p.started {
		res = Get[LinesResponse[T]](ctx, p.client, p.endpoint, p.params)
		p.started = true
	} else {
		res = GetURL[LinesResponse[T]](ctx, p.client, p.next)
	}
	if !res.OK() {
		p.err = res.Err
		p.page = nil
		return false
	}

	p.page = res.Value.Results
	if p.page == nil {
		p.page = []T{}
	}
	p.seen += len(p.page)
	p.total = res.Value.Total
	p.next = res.Value.Next
	if p.next == "" || len(p.page) < p.size {
		p.done = true
	}
	return true
}

// Page returns the rows of the current page
func (p *CursorPager[T]) Page() []T {
	return p.page
}

// Progress returns completion in percent after the current page
func (p *CursorPager[T]) Progress() float64 {
	if p.total <= 0 {
		return 100
	}
	return min(float64(p.seen)*100/float64(p.total), 100)
}

// Err returns the error that stopped the pager, if any
func (p *CursorPager[T]) Err() error {
	return p.err
}

// CollectAll drains the pager into one slice, in page order
func (p *CursorPager[T]) CollectAll(ctx context.Context) ([]T, error) {
	var all []T
	for p.Next(ctx) {
		all = append(all, p.Page()...)
	}
	return all, p.Err()
}
