// Package netbox reads inventory from the NetBox REST API using a static
// API token sent as "Authorization: Token <key>".
package netbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/auth"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/transport"
)

const (
	ServiceName = "netbox"
	AuthScheme  = "Token"

	PathDevices  = "/api/dcim/devices/"
	PathSites    = "/api/dcim/sites/"
	PathRegions  = "/api/dcim/regions/"
	PathPrefixes = "/api/ipam/prefixes/"
	PathTenants  = "/api/tenancy/tenants/"
)

type Config struct {
	URL        string
	Token      string
	HTTPClient transport.HTTPDoer
}

// Page is one page of a NetBox list endpoint.
type Page struct {
	Count   int              `json:"count"`
	Next    string           `json:"next,omitempty"`
	Results []map[string]any `json:"results"`
}

type Client struct {
	client *core.Client

	mu  sync.RWMutex
	ids map[string]int64
}

func New(cfg Config, opts ...core.Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	token := strings.TrimSpace(cfg.Token)
	if baseURL == "" || token == "" {
		return nil, goerrors.New("netbox: url and token are required", goerrors.CategoryBadInput).
			WithTextCode(core.OutboundErrorConfigInvalid)
	}
	options := append([]core.Option{
		core.WithTransport(transport.NewRESTAdapter(cfg.HTTPClient)),
		core.WithTokenFetcher(auth.NewStaticFetcher(token, 0)),
		core.WithSecrets(token),
	}, opts...)

	client, err := core.NewClient(core.Config{
		ServiceName: ServiceName,
		BaseURL:     baseURL,
		Token:       core.TokenConfig{AuthScheme: AuthScheme},
	}, options...)
	if err != nil {
		return nil, err
	}
	return &Client{client: client, ids: map[string]int64{}}, nil
}

// List reads one page from a list endpoint. Empty filter values are dropped.
// On success Data holds a Page.
func (c *Client) List(ctx context.Context, path string, filters map[string]string) core.Envelope {
	path = strings.TrimSpace(path)
	if path == "" {
		return core.Failure(core.CodeBadRequest, "netbox: endpoint path is required", nil)
	}
	env := c.client.Execute(ctx, core.RequestSpec{
		Method:    http.MethodGet,
		Target:    path,
		Query:     cleanFilters(filters),
		Operation: "list " + strings.Trim(path, "/"),
	})
	if !env.OK() {
		return env
	}
	response, _ := core.DataAs[core.Response](env)
	return core.Success(decodePage(response.Body))
}

func (c *Client) ListDevices(ctx context.Context, filters map[string]string) core.Envelope {
	return c.List(ctx, PathDevices, filters)
}

func (c *Client) ListSites(ctx context.Context, filters map[string]string) core.Envelope {
	return c.List(ctx, PathSites, filters)
}

func (c *Client) ListRegions(ctx context.Context, filters map[string]string) core.Envelope {
	return c.List(ctx, PathRegions, filters)
}

func (c *Client) ListPrefixes(ctx context.Context, filters map[string]string) core.Envelope {
	return c.List(ctx, PathPrefixes, filters)
}

func (c *Client) ListTenants(ctx context.Context, filters map[string]string) core.Envelope {
	return c.List(ctx, PathTenants, filters)
}

// LookupID resolves the id of the single object matching filters. Data is
// the id, or nil with CodeNoData when nothing matches. More than one match
// is a bad request. Resolved ids are cached for the life of the client.
func (c *Client) LookupID(ctx context.Context, path string, filters map[string]string) core.Envelope {
	cleaned := cleanFilters(filters)
	if len(cleaned) == 0 {
		return core.Failure(core.CodeNoData, "netbox: no filters given", nil)
	}
	cacheKey := lookupKey(path, cleaned)
	c.mu.RLock()
	id, ok := c.ids[cacheKey]
	c.mu.RUnlock()
	if ok {
		return core.Success(id)
	}

	env := c.List(ctx, path, cleaned)
	if !env.OK() {
		return env
	}
	page, _ := core.DataAs[Page](env)
	switch {
	case page.Count > 1:
		return core.Failure(core.CodeBadRequest, fmt.Sprintf("netbox: %d objects match", page.Count), page)
	case page.Count == 0 || len(page.Results) == 0:
		return core.Failure(core.CodeNoData, "netbox: object not found", nil)
	}
	id, ok = intValue(page.Results[0]["id"])
	if !ok {
		return core.Failure(core.CodeParseFailure, "netbox: object has no numeric id", nil)
	}
	c.mu.Lock()
	c.ids[cacheKey] = id
	c.mu.Unlock()
	return core.Success(id)
}

func (c *Client) DeviceID(ctx context.Context, name string) core.Envelope {
	return c.LookupID(ctx, PathDevices, map[string]string{"name": name})
}

func (c *Client) SiteID(ctx context.Context, name string) core.Envelope {
	return c.LookupID(ctx, PathSites, map[string]string{"name": name})
}

func (c *Client) TenantID(ctx context.Context, name string) core.Envelope {
	return c.LookupID(ctx, PathTenants, map[string]string{"name": name})
}

func (c *Client) Core() *core.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

func cleanFilters(filters map[string]string) map[string]string {
	out := make(map[string]string, len(filters))
	for key, value := range filters {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func lookupKey(path string, filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	builder := strings.Builder{}
	builder.WriteString(strings.TrimSpace(path))
	for _, key := range keys {
		builder.WriteString("|" + key + "=" + filters[key])
	}
	return builder.String()
}

func decodePage(body any) Page {
	page := Page{Results: []map[string]any{}}
	payload, ok := body.(map[string]any)
	if !ok {
		return page
	}
	if results, ok := payload["results"].([]any); ok {
		for _, item := range results {
			if object, ok := item.(map[string]any); ok {
				page.Results = append(page.Results, object)
			}
		}
	}
	page.Count = len(page.Results)
	if count, ok := intValue(payload["count"]); ok {
		page.Count = int(count)
	}
	page.Next, _ = payload["next"].(string)
	return page
}

func intValue(raw any) (int64, bool) {
	switch typed := raw.(type) {
	case json.Number:
		value, err := typed.Int64()
		return value, err == nil
	case float64:
		return int64(typed), true
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	default:
		return 0, false
	}
}
