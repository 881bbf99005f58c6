package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	searchStopped     = "Stopped"
	defaultSearchSize = 100
)

// SearchTorrents runs a search job on the backend's search plugins and
// returns whatever results exist once the job stops, enough results are
// available, or the wait budget runs out. Jobs are asynchronous on the
// backend and are not guaranteed to finish within any bound, so a partial
// result set with Status "Running" is normal. The job is always stopped
// and deleted before returning.
func (c *Client) SearchTorrents(ctx context.Context, req SearchRequest) (*SearchResults, error) {
	plugins := req.Plugins
	if plugins == "" {
		plugins = "all"
	}
	category := req.Category
	if category == "" {
		category = "all"
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchSize
	}

	body, err := c.do(ctx, http.MethodPost, pathSearchStart, nil, url.Values{
		"pattern":  {req.Query},
		"plugins":  {plugins},
		"category": {category},
	})
	if err != nil {
		return nil, err
	}
	id, err := parseSearchJob(body)
	if err != nil {
		return nil, decodeError(http.MethodPost, pathSearchStart, err)
	}
	defer c.cleanupSearch(ctx, id)

	if err := c.waitForSearch(ctx, id, limit); err != nil {
		return nil, err
	}

	body, err = c.do(ctx, http.MethodGet, pathSearchResults, url.Values{
		"id":    {strconv.Itoa(id)},
		"limit": {strconv.Itoa(limit)},
	}, nil)
	if err != nil {
		return nil, err
	}
	results, err := parseSearchResults(id, body)
	if err != nil {
		return nil, decodeError(http.MethodGet, pathSearchResults, err)
	}
	if len(results.Results) > limit {
		results.Results = results.Results[:limit]
	}
	return results, nil
}

// waitForSearch polls the job status at the configured pace. Running out of
// the wait budget is not an error; the caller collects partial results. The
// caller's own deadline or cancellation always is.
func (c *Client) waitForSearch(ctx context.Context, id, limit int) error {
	budget := time.Now().Add(c.searchMaxWait)
	pace := rate.NewLimiter(rate.Every(c.searchPollInterval), 1)
	query := url.Values{"id": {strconv.Itoa(id)}}

	for {
		r := pace.Reserve()
		if time.Now().Add(r.Delay()).After(budget) {
			r.Cancel()
			return nil
		}
		if err := sleepCtx(ctx, r.Delay()); err != nil {
			r.Cancel()
			return transportError(http.MethodGet, pathSearchStatus, err)
		}

		pctx, cancel := context.WithDeadline(ctx, budget)
		body, err := c.do(pctx, http.MethodGet, pathSearchStatus, query, nil)
		budgetHit := pctx.Err() != nil && ctx.Err() == nil
		cancel()
		if err != nil {
			if budgetHit {
				return nil
			}
			return err
		}
		status, total, err := parseSearchStatus(body)
		if err != nil {
			return decodeError(http.MethodGet, pathSearchStatus, err)
		}
		if status == searchStopped || total >= limit {
			return nil
		}
	}
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cleanupSearch stops and deletes a search job. It runs detached from ctx
// cancellation so an abandoned search does not keep running on the backend.
func (c *Client) cleanupSearch(ctx context.Context, id int) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	form := url.Values{"id": {strconv.Itoa(id)}}
	if _, err := c.do(cctx, http.MethodPost, pathSearchStop, nil, form); err != nil {
		c.logger.Debug("stop search job", zap.Int("id", id), zap.Error(err))
	}
	if _, err := c.do(cctx, http.MethodPost, pathSearchDelete, nil, form); err != nil {
		c.logger.Warn("delete search job", zap.Int("id", id), zap.Error(err))
	}
}
