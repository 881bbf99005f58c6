package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Action is a control operation applied to a batch of torrents.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionDelete Action = "delete"
)

// ErrUnknownAction is returned by ControlTorrent for an unsupported action.
var ErrUnknownAction = errors.New("unknown torrent action")

// actionEndpoints lists the endpoints tried in order for each action.
// qBittorrent 5 renamed pause/resume to stop/start.
var actionEndpoints = map[Action][]string{
	ActionPause:  {"pause", "stop"},
	ActionResume: {"resume", "start"},
	ActionDelete: {"delete"},
}

// ListTorrents returns the torrents matching filter and category in backend
// order. Empty arguments apply no constraint; filtering happens on the
// backend only.
func (c *Client) ListTorrents(ctx context.Context, filter, category string) ([]TorrentSummary, error) {
	query := url.Values{}
	if filter != "" {
		query.Set("filter", filter)
	}
	if category != "" {
		query.Set("category", category)
	}

	body, err := c.do(ctx, http.MethodGet, pathTorrentsInfo, query, nil)
	if err != nil {
		return nil, err
	}
	list, err := parseTorrentList(body)
	if err != nil {
		return nil, decodeError(http.MethodGet, pathTorrentsInfo, err)
	}
	return list, nil
}

// GetTorrentInfo fetches a torrent's summary, properties, files and trackers
// concurrently and joins them. If any fetch fails the whole call fails.
func (c *Client) GetTorrentInfo(ctx context.Context, hash string) (*TorrentDetail, error) {
	var (
		summary  TorrentSummary
		props    TorrentProperties
		files    []TorrentFile
		trackers []Tracker
	)
	byHash := url.Values{"hash": {hash}}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		body, err := c.do(gctx, http.MethodGet, pathTorrentsInfo, url.Values{"hashes": {hash}}, nil)
		if err != nil {
			return err
		}
		list, err := parseTorrentList(body)
		if err != nil {
			return decodeError(http.MethodGet, pathTorrentsInfo, err)
		}
		if len(list) == 0 {
			return &APIError{
				Reason:     ReasonBackend,
				Method:     http.MethodGet,
				Path:       pathTorrentsInfo,
				StatusCode: http.StatusNotFound,
				Body:       "torrent not found",
			}
		}
		summary = list[0]
		return nil
	})

	g.Go(func() error {
		body, err := c.do(gctx, http.MethodGet, pathTorrentsProps, byHash, nil)
		if err != nil {
			return err
		}
		p, err := parseProperties(body)
		if err != nil {
			return decodeError(http.MethodGet, pathTorrentsProps, err)
		}
		props = p
		return nil
	})

	g.Go(func() error {
		body, err := c.do(gctx, http.MethodGet, pathTorrentsFiles, byHash, nil)
		if err != nil {
			return err
		}
		f, err := parseFiles(body)
		if err != nil {
			return decodeError(http.MethodGet, pathTorrentsFiles, err)
		}
		files = f
		return nil
	})

	g.Go(func() error {
		body, err := c.do(gctx, http.MethodGet, pathTorrentsTrack, byHash, nil)
		if err != nil {
			return err
		}
		t, err := parseTrackers(body)
		if err != nil {
			return decodeError(http.MethodGet, pathTorrentsTrack, err)
		}
		trackers = t
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &TorrentDetail{
		TorrentSummary: summary,
		Properties:     props,
		Files:          files,
		Trackers:       trackers,
	}, nil
}

// AddTorrent submits one or more magnet links or torrent URLs in a single
// call. The backend does not report the resulting hashes.
func (c *Client) AddTorrent(ctx context.Context, req AddRequest) (*ActionOutcome, error) {
	if len(req.URLs) == 0 {
		return nil, errors.New("at least one URL is required")
	}

	form := url.Values{"urls": {strings.Join(req.URLs, "\n")}}
	if req.SavePath != "" {
		form.Set("savepath", req.SavePath)
	}
	if req.Category != "" {
		form.Set("category", req.Category)
	}
	if req.Paused {
		form.Set("paused", "true")
		form.Set("stopped", "true")
	}

	body, err := c.do(ctx, http.MethodPost, pathTorrentsAdd, nil, form)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(body)) == "Fails." {
		return nil, &APIError{
			Reason:     ReasonBackend,
			Method:     http.MethodPost,
			Path:       pathTorrentsAdd,
			StatusCode: http.StatusOK,
			Body:       "backend rejected the torrent (Fails.)",
		}
	}

	msg := "Torrent added successfully"
	if n := len(req.URLs); n > 1 {
		msg = fmt.Sprintf("%d torrents added successfully", n)
	}
	return &ActionOutcome{Success: true, Message: msg}, nil
}

// ControlTorrent pauses, resumes or deletes a batch of torrents. deleteFiles
// is only sent for ActionDelete.
func (c *Client) ControlTorrent(ctx context.Context, hashes []string, action Action, deleteFiles bool) (*ActionOutcome, error) {
	endpoints, ok := actionEndpoints[action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if len(hashes) == 0 {
		return nil, errors.New("at least one hash is required")
	}

	form := url.Values{"hashes": {strings.Join(hashes, "|")}}
	if action == ActionDelete {
		form.Set("deleteFiles", fmt.Sprintf("%t", deleteFiles))
	}

	for i, ep := range endpoints {
		_, err := c.do(ctx, http.MethodPost, pathTorrentsPrefix+ep, nil, form)
		if err == nil {
			break
		}
		var apiErr *APIError
		if i < len(endpoints)-1 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			c.logger.Debug("torrent action endpoint missing, trying fallback",
				zap.String("endpoint", ep),
				zap.String("fallback", endpoints[i+1]),
			)
			continue
		}
		return nil, err
	}

	return &ActionOutcome{
		Success: true,
		Message: fmt.Sprintf("Torrent %s action completed successfully for %d torrent(s)", action, len(hashes)),
	}, nil
}
