package graph

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

	"github.com/entgraph/discovery/pkg/entity"
)

const (
	defaultCallTimeout = 30 * time.Second
	bulkCallTimeout    = 60 * time.Second

	// listPageSize is the page size used when walking the full listing.
	listPageSize = 500
)

// Client is an HTTP client for the graph API. It carries no per-call state
// and is safe for concurrent use from every scheduler worker.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClientParams contains configuration options for creating a new Client.
type NewClientParams struct {
	BaseURL     string
	APIKey      string
	Environment string

	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewClient creates a graph API client for the given base URL. Every request
// carries the bearer key and, when set, the environment header.
func NewClient(params NewClientParams) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(params.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse graph api base url: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + params.APIKey,
		"Content-Type":  "application/json",
	}
	if params.Environment != "" {
		headers["X-Graph-Environment"] = params.Environment
	}

	base := params.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}

	// A fresh client around the caller's transport, so the caller's client
	// is left untouched.
	httpClient := &http.Client{
		Transport:     &headerTransport{headers: headers, rt: rt},
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       base.Timeout,
	}

	return &Client{
		baseURL:    u,
		httpClient: httpClient,
	}, nil
}

// ListEntities fetches one page of entities.
func (c *Client) ListEntities(ctx context.Context, params ListEntitiesParams) (*EntityPage, error) {
	q := url.Values{}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.FieldSelector != "" {
		q.Set("field_selector", params.FieldSelector)
	}
	if params.IncludeRelations {
		q.Set("include_relations", "true")
	}

	page := &EntityPage{}
	if err := c.do(ctx, http.MethodGet, "/entities?"+q.Encode(), nil, page, defaultCallTimeout, http.StatusOK); err != nil {
		return nil, err
	}
	return page, nil
}

// ListAllEntities walks every page of a listing matching the selector and
// returns the merged result.
func (c *Client) ListAllEntities(ctx context.Context, fieldSelector string, includeRelations bool) (*EntityPage, error) {
	all := &EntityPage{}
	offset := 0
	for {
		page, err := c.ListEntities(ctx, ListEntitiesParams{
			Limit:            listPageSize,
			Offset:           offset,
			FieldSelector:    fieldSelector,
			IncludeRelations: includeRelations,
		})
		if err != nil {
			return nil, err
		}
		all.PrimaryEntities = append(all.PrimaryEntities, page.PrimaryEntities...)
		all.Relations = append(all.Relations, page.Relations...)
		if len(page.PrimaryEntities) < listPageSize {
			return all, nil
		}
		offset += listPageSize
	}
}

// BulkCreateEntities creates or replaces a batch of entities of one
// (group, version, namespace, plural). Creation is idempotent by identity.
func (c *Client) BulkCreateEntities(ctx context.Context, group, version, namespace, plural string, entities []entity.Entity) (*BulkEntityResult, error) {
	path := entityTypePath(group, version, namespace, plural) + ":bulkCreate"
	body := map[string]any{"entities": entities}

	result := &BulkEntityResult{}
	if err := c.do(ctx, http.MethodPost, path, body, result, bulkCallTimeout, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateEntity creates or replaces a single entity.
func (c *Client) CreateEntity(ctx context.Context, e entity.Entity) error {
	path := entityTypePath(e.Group(), e.Version(), e.Namespace(), e.Plural())
	return c.do(ctx, http.MethodPost, path, e, nil, defaultCallTimeout, http.StatusCreated, http.StatusOK)
}

// DeleteEntity removes a single entity by reference. The graph responds 204
// on success.
func (c *Client) DeleteEntity(ctx context.Context, ref entity.EntityReference) error {
	path := entityTypePath(ref.Group(), ref.Version(), ref.Namespace, entity.Pluralize(ref.Kind)) + "/" + url.PathEscape(ref.Name)
	return c.do(ctx, http.MethodDelete, path, nil, nil, defaultCallTimeout, http.StatusNoContent)
}

// CreateDefinition registers an entity definition. It reports whether the
// definition was newly created; an already-registered definition (409) is not
// an error.
func (c *Client) CreateDefinition(ctx context.Context, def entity.Definition) (bool, error) {
	err := c.do(ctx, http.MethodPost, "/entity-definitions", def, nil, defaultCallTimeout, http.StatusCreated)
	if err == nil {
		return true, nil
	}
	if IsStatus(err, http.StatusConflict) {
		return false, nil
	}
	return false, err
}

// BulkCreateRelations creates a batch of relations in one namespace.
func (c *Client) BulkCreateRelations(ctx context.Context, namespace string, relations []entity.EntityRelation) (*BulkRelationResult, error) {
	req := BulkRelationRequest{Relations: relations, Namespace: namespace}

	result := &BulkRelationResult{}
	if err := c.do(ctx, http.MethodPost, "/relations:bulkCreate", req, result, bulkCallTimeout, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateRelation creates a single relation.
func (c *Client) CreateRelation(ctx context.Context, r entity.EntityRelation) error {
	return c.do(ctx, http.MethodPost, "/relations", r, nil, defaultCallTimeout, http.StatusCreated, http.StatusOK)
}

// DeleteRelation removes a single relation, identified by its full content.
func (c *Client) DeleteRelation(ctx context.Context, r entity.EntityRelation) error {
	return c.do(ctx, http.MethodDelete, "/relations", r, nil, defaultCallTimeout, http.StatusNoContent)
}

func entityTypePath(group, version, namespace, plural string) string {
	if group == "" {
		group = "core"
	}
	return fmt.Sprintf("/apis/%s/%s/namespaces/%s/%s",
		url.PathEscape(group), url.PathEscape(version), url.PathEscape(namespace), url.PathEscape(plural))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, timeout time.Duration, okStatuses ...int) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	ok := false
	for _, s := range okStatuses {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}
