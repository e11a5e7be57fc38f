package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client performs row CRUD against the backend's REST surface. Filters use
// the backend's column=op.value query convention.
type Client struct {
	baseURL string
	apiKey  string
	token   string
	http    *http.Client
}

// NewClient creates a REST client for the given backend URL and anon key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken installs the session access token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Body)
}

// Query accumulates filters for a single table operation.
type Query struct {
	params url.Values
}

// NewQuery returns an empty query.
func NewQuery() Query {
	return Query{params: url.Values{}}
}

// Eq filters column = value.
func (q Query) Eq(column string, value any) Query {
	q.params.Add(column, fmt.Sprintf("eq.%v", value))
	return q
}

// Gte filters column >= value.
func (q Query) Gte(column string, value any) Query {
	q.params.Add(column, fmt.Sprintf("gte.%v", value))
	return q
}

// Lte filters column <= value.
func (q Query) Lte(column string, value any) Query {
	q.params.Add(column, fmt.Sprintf("lte.%v", value))
	return q
}

// Like filters column against a pattern (% wildcards).
func (q Query) Like(column, pattern string) Query {
	q.params.Add(column, "like."+pattern)
	return q
}

// In filters column against a value list.
func (q Query) In(column string, values []string) Query {
	q.params.Add(column, "in.("+strings.Join(values, ",")+")")
	return q
}

// Or applies a raw disjunction expression, e.g.
// "(and(sender_id.eq.A,receiver_id.eq.B),and(sender_id.eq.B,receiver_id.eq.A))".
func (q Query) Or(expr string) Query {
	q.params.Add("or", expr)
	return q
}

// Order sorts by column; desc reverses.
func (q Query) Order(column string, desc bool) Query {
	dir := "asc"
	if desc {
		dir = "desc"
	}
	q.params.Add("order", column+"."+dir)
	return q
}

// Limit caps the number of rows returned.
func (q Query) Limit(n int) Query {
	q.params.Add("limit", strconv.Itoa(n))
	return q
}

func (q Query) encode() string {
	if q.params == nil {
		return ""
	}
	return q.params.Encode()
}

// Select fetches matching rows into dest (a pointer to a slice).
func (c *Client) Select(ctx context.Context, table string, q Query, dest any) error {
	body, _, err := c.do(ctx, http.MethodGet, table, q, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s rows: %w", table, err)
	}
	return nil
}

// Insert writes a row. If dest is non-nil the created row (as returned by
// the backend) is decoded into it.
func (c *Client) Insert(ctx context.Context, table string, row any, dest any) error {
	prefer := "return=minimal"
	if dest != nil {
		prefer = "return=representation"
	}
	body, _, err := c.do(ctx, http.MethodPost, table, Query{}, row, prefer)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	// The backend returns created rows as an array.
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return fmt.Errorf("decode created %s row: %w", table, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("insert into %s returned no rows", table)
	}
	if err := json.Unmarshal(rows[0], dest); err != nil {
		return fmt.Errorf("decode created %s row: %w", table, err)
	}
	return nil
}

// Update patches all rows matching q with the given column values.
func (c *Client) Update(ctx context.Context, table string, q Query, patch any) error {
	_, _, err := c.do(ctx, http.MethodPatch, table, q, patch, "")
	return err
}

// Delete removes all rows matching q.
func (c *Client) Delete(ctx context.Context, table string, q Query) error {
	_, _, err := c.do(ctx, http.MethodDelete, table, q, nil, "")
	return err
}

// Count returns the exact number of rows matching q without fetching them.
func (c *Client) Count(ctx context.Context, table string, q Query) (int, error) {
	_, resp, err := c.do(ctx, http.MethodHead, table, q, nil, "count=exact")
	if err != nil {
		return 0, err
	}
	// Content-Range is "0-24/25" or "*/0".
	cr := resp.Header.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 {
		return 0, fmt.Errorf("count %s: missing content range", table)
	}
	n, err := strconv.Atoi(cr[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("count %s: bad content range %q: %w", table, cr, err)
	}
	return n, nil
}

func (c *Client) do(ctx context.Context, method, table string, q Query, payload any, prefer string) ([]byte, *http.Response, error) {
	u := c.baseURL + "/rest/v1/" + table
	if enc := q.encode(); enc != "" {
		u += "?" + enc
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s payload: %w", table, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, table, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: read response: %w", method, table, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, resp, nil
}
