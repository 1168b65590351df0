package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/pkg/errors"
)

// Client talks to a hosted PostgREST endpoint (/rest/v1) and implements gateway.Gateway.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:54321"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (c *Client) List(ctx context.Context, t gateway.Table, q gateway.Query) ([]gateway.Row, error) {
	params := url.Values{}
	params.Set("select", SelectParam(q))
	for _, k := range sortedKeys(q.Eq) {
		params.Set(k, filterValue(q.Eq[k]))
	}
	if q.Order != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		params.Set("order", q.Order+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var rows []gateway.Row
	if err := c.do(ctx, http.MethodGet, t, params, nil, &rows); err != nil {
		return nil, gateway.NewError("list", t, err)
	}
	for _, r := range rows {
		gateway.NormalizeEmbeds(r, q.Embeds)
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, t gateway.Table, row gateway.Row) (gateway.Row, error) {
	body, err := gateway.CoerceRow(t, row)
	if err != nil {
		return nil, gateway.NewError("insert", t, err)
	}
	var rows []gateway.Row
	if err := c.do(ctx, http.MethodPost, t, nil, body, &rows); err != nil {
		return nil, gateway.NewError("insert", t, err)
	}
	if len(rows) == 0 {
		return nil, gateway.NewError("insert", t, errors.New("empty representation"))
	}
	return rows[0], nil
}

func (c *Client) Update(ctx context.Context, t gateway.Table, key string, patch gateway.Row) (gateway.Row, error) {
	body, err := gateway.CoerceRow(t, patch)
	if err != nil {
		return nil, gateway.NewError("update", t, err)
	}
	params := url.Values{}
	params.Set(t.KeyColumn(), "eq."+key)

	var rows []gateway.Row
	if err := c.do(ctx, http.MethodPatch, t, params, body, &rows); err != nil {
		return nil, gateway.NewError("update", t, err)
	}
	if len(rows) == 0 {
		return nil, gateway.NewError("update", t, gateway.ErrNotFound)
	}
	return rows[0], nil
}

func (c *Client) Delete(ctx context.Context, t gateway.Table, key string) error {
	params := url.Values{}
	params.Set(t.KeyColumn(), "eq."+key)
	if err := c.do(ctx, http.MethodDelete, t, params, nil, nil); err != nil {
		return gateway.NewError("delete", t, err)
	}
	return nil
}

// Ping checks the endpoint answers with a cheap single-row read.
func (c *Client) Ping(ctx context.Context) error {
	params := url.Values{}
	params.Set("select", "id")
	params.Set("limit", "1")
	var rows []gateway.Row
	return c.do(ctx, http.MethodGet, gateway.TableDrivers, params, nil, &rows)
}

func (c *Client) do(ctx context.Context, method string, t gateway.Table, params url.Values, body any, out any) error {
	u, err := url.Parse(c.baseURL + "/rest/v1/" + string(t))
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode body")
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var ae apiError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &ae) == nil && ae.Message != "" {
			return errors.New(ae.Message)
		}
		return fmt.Errorf("postgrest http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrap(err, "decode")
	}
	return nil
}

// SelectParam renders the select= parameter, e.g. "*,drivers(full_name)".
func SelectParam(q gateway.Query) string {
	parts := []string{"*"}
	if len(q.Columns) > 0 {
		parts = append([]string(nil), q.Columns...)
	}
	for _, e := range q.Embeds {
		cols := "*"
		if len(e.Columns) > 0 {
			cols = strings.Join(e.Columns, ",")
		}
		parts = append(parts, fmt.Sprintf("%s(%s)", e.Relation, cols))
	}
	return strings.Join(parts, ",")
}

func filterValue(v any) string {
	if v == nil {
		return "is.null"
	}
	if t, ok := v.(time.Time); ok {
		return "eq." + t.UTC().Format(time.RFC3339Nano)
	}
	return "eq." + gateway.StringValue(v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
