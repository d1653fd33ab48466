package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Doc is one bulk index action. ID becomes the document _id so reloading
// the same data overwrites instead of duplicating.
type Doc struct {
	ID     string
	Source any
}

// IndexExists reports whether name exists.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("checking index %s: %w", name, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, checkResponse("index exists", res)
	}
}

// EnsureIndex creates name with mapping unless it already exists. Existing
// indexes are never dropped.
func (c *Client) EnsureIndex(ctx context.Context, name string, mapping map[string]any) (bool, error) {
	exists, err := c.IndexExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return true, c.createIndex(ctx, name, mapping)
}

// RecreateIndex drops name if present and creates it again with mapping.
func (c *Client) RecreateIndex(ctx context.Context, name string, mapping map[string]any) error {
	exists, err := c.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		res, err := c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("deleting index %s: %w", name, err)
		}
		defer res.Body.Close()
		if err := checkResponse("delete index", res); err != nil {
			return err
		}
	}
	return c.createIndex(ctx, name, mapping)
}

func (c *Client) createIndex(ctx context.Context, name string, mapping map[string]any) error {
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("encoding mapping for %s: %w", name, err)
	}

	res, err := c.es.Indices.Create(name,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(body)))
	if err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	defer res.Body.Close()
	return checkResponse("create index", res)
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkError lists the documents Elasticsearch rejected.
type BulkError struct {
	Index  string
	Failed int
	First  string
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk into %s: %d documents rejected, first: %s", e.Index, e.Failed, e.First)
}

// BulkIndex upserts docs into index in a single request.
func (c *Client) BulkIndex(ctx context.Context, index string, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		meta := map[string]any{"index": map[string]any{"_index": index, "_id": d.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encoding bulk meta: %w", err)
		}
		if err := enc.Encode(d.Source); err != nil {
			return fmt.Errorf("encoding document %s: %w", d.ID, err)
		}
	}

	res, err := c.es.Bulk(&buf, c.es.Bulk.WithContext(ctx), c.es.Bulk.WithIndex(index))
	if err != nil {
		return fmt.Errorf("bulk request into %s: %w", index, err)
	}
	defer res.Body.Close()
	if err := checkResponse("bulk", res); err != nil {
		return err
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}

	bulkErr := &BulkError{Index: index}
	for _, item := range br.Items {
		for _, r := range item {
			if r.Error == nil {
				continue
			}
			if bulkErr.Failed == 0 {
				bulkErr.First = fmt.Sprintf("%s: %s (%s)", r.ID, r.Error.Reason, r.Error.Type)
			}
			bulkErr.Failed++
		}
	}
	return bulkErr
}

// Refresh makes recent writes visible to search.
func (c *Client) Refresh(ctx context.Context, index string) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(index))
	if err != nil {
		return fmt.Errorf("refreshing %s: %w", index, err)
	}
	defer res.Body.Close()
	return checkResponse("refresh", res)
}

type scrollPage struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Scan walks every document of index with the scroll API and calls fn with
// each _source.
func (c *Client) Scan(ctx context.Context, index string, size int, keepAlive time.Duration, fn func(json.RawMessage) error) (int, error) {
	if size <= 0 {
		size = 500
	}
	if keepAlive <= 0 {
		keepAlive = time.Minute
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithSize(size),
		c.es.Search.WithSort("_doc"),
		c.es.Search.WithScroll(keepAlive))
	if err != nil {
		return 0, fmt.Errorf("opening scroll on %s: %w", index, err)
	}

	page, err := decodePage("search", res.Body, res.IsError(), res.StatusCode)
	res.Body.Close()
	if err != nil {
		return 0, err
	}

	scrollID := page.ScrollID
	defer c.clearScroll(scrollID)

	count := 0
	for len(page.Hits.Hits) > 0 {
		for _, h := range page.Hits.Hits {
			if err := fn(h.Source); err != nil {
				return count, err
			}
			count++
		}

		res, err := c.es.Scroll(
			c.es.Scroll.WithContext(ctx),
			c.es.Scroll.WithScrollID(scrollID),
			c.es.Scroll.WithScroll(keepAlive))
		if err != nil {
			return count, fmt.Errorf("scrolling %s: %w", index, err)
		}
		page, err = decodePage("scroll", res.Body, res.IsError(), res.StatusCode)
		res.Body.Close()
		if err != nil {
			return count, err
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}
	return count, nil
}

func decodePage(op string, body io.Reader, isErr bool, status int) (scrollPage, error) {
	var page scrollPage
	if isErr {
		raw, _ := io.ReadAll(io.LimitReader(body, 4096))
		return page, &ResponseError{Op: op, Status: status, Body: string(raw)}
	}
	if err := json.NewDecoder(body).Decode(&page); err != nil {
		return page, fmt.Errorf("decoding %s response: %w", op, err)
	}
	return page, nil
}

func (c *Client) clearScroll(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.es.ClearScroll(c.es.ClearScroll.WithContext(ctx), c.es.ClearScroll.WithScrollID(id))
	if err == nil {
		res.Body.Close()
	}
}
