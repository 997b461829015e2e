// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lms

import (
	"context"
	"encoding/json"
	"sync"
)

// DefaultConcurrency bounds fan-out for BoundedMap when callers pass 0.
const DefaultConcurrency = 4

// =============================================================================
// PAGINATED FETCH
// =============================================================================

// FetchPaginated follows the Link-header pagination convention starting from
// startURL, concatenating the JSON array body of every page. Each page body
// must be a JSON array; anything else is a ProtocolError.
func (c *Client) FetchPaginated(ctx context.Context, startURL string) ([]json.RawMessage, error) {
	var all []json.RawMessage

	url := startURL
	for url != "" {
		body, next, err := c.get(ctx, url)
		if err != nil {
			return nil, err
		}

		var page []json.RawMessage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &ProtocolError{Msg: "response body is not a JSON array", Err: err}
		}

		all = append(all, page...)
		url = next
	}

	return all, nil
}

// =============================================================================
// BOUNDED CONCURRENCY MAP
// =============================================================================

// BoundedMap runs fn over items with at most limit calls in flight, and
// returns results and errors in index correspondence with the input
// regardless of completion order. Workers share nothing but the indexed
// result slots. A canceled context surfaces as ctx.Err() in the error slot
// of every item not yet started.
func BoundedMap[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) ([]R, []error) {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, item := range items {
		select {
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = fn(ctx, item)
		}(i, item)
	}

	wg.Wait()
	return results, errs
}
