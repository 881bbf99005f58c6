package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cehbz/torrentname"
)

// Wire records mirror the backend's JSON. Pointer fields are required:
// a payload without them is rejected rather than silently zero-filled.

// required collects the names of missing required fields.
type required []string

func (r *required) need(present bool, name string) {
	if !present {
		*r = append(*r, name)
	}
}

func (r required) err(record string) error {
	if len(r) == 0 {
		return nil
	}
	return fmt.Errorf("%s: missing required fields: %s", record, strings.Join(r, ", "))
}

// rawStates maps every state the backend reports to its normalized form.
// Unlisted states are rejected.
var rawStates = map[string]State{
	"downloading":        StateDownloading,
	"forcedDL":           StateDownloading,
	"metaDL":             StateDownloading,
	"forcedMetaDL":       StateDownloading,
	"allocating":         StateDownloading,
	"uploading":          StateSeeding,
	"forcedUP":           StateSeeding,
	"stalledUP":          StateSeeding,
	"pausedDL":           StatePaused,
	"stoppedDL":          StatePaused,
	"pausedUP":           StateCompleted,
	"stoppedUP":          StateCompleted,
	"error":              StateError,
	"missingFiles":       StateError,
	"stalledDL":          StateStalled,
	"queuedDL":           StateQueued,
	"queuedUP":           StateQueued,
	"checkingDL":         StateChecking,
	"checkingUP":         StateChecking,
	"checkingResumeData": StateChecking,
	"moving":             StateMoving,
	"unknown":            StateUnknown,
}

func normalizeState(raw string) (State, error) {
	s, ok := rawStates[raw]
	if !ok {
		return "", fmt.Errorf("unrecognized torrent state %q", raw)
	}
	return s, nil
}

func checkProgress(p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("progress %v outside [0, 1]", p)
	}
	return nil
}

// IsInfoHash reports whether s is a v1 info-hash: exactly 40 hex
// characters, either case. Backend records and caller input share this rule.
func IsInfoHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// ── /api/v2/torrents/info ────────────────────────────────────────────────────

type wireTorrent struct {
	Hash     *string  `json:"hash"`
	Name     *string  `json:"name"`
	State    *string  `json:"state"`
	Progress *float64 `json:"progress"`
	DLSpeed  *int64   `json:"dlspeed"`
	UPSpeed  *int64   `json:"upspeed"`
	Size     *int64   `json:"size"`
	SavePath *string  `json:"save_path"`
	Category string   `json:"category"`
	ETA      int64    `json:"eta"`
	NumSeeds int      `json:"num_seeds"`
	NumLeech int      `json:"num_leechs"`
	Ratio    float64  `json:"ratio"`
	AddedOn  int64    `json:"added_on"`
}

func (w *wireTorrent) summary() (TorrentSummary, error) {
	var r required
	r.need(w.Hash != nil, "hash")
	r.need(w.Name != nil, "name")
	r.need(w.State != nil, "state")
	r.need(w.Progress != nil, "progress")
	r.need(w.DLSpeed != nil, "dlspeed")
	r.need(w.UPSpeed != nil, "upspeed")
	r.need(w.Size != nil, "size")
	r.need(w.SavePath != nil, "save_path")
	if err := r.err("torrent"); err != nil {
		return TorrentSummary{}, err
	}
	if !IsInfoHash(*w.Hash) {
		return TorrentSummary{}, fmt.Errorf("torrent: malformed hash %q", *w.Hash)
	}
	state, err := normalizeState(*w.State)
	if err != nil {
		return TorrentSummary{}, fmt.Errorf("torrent %s: %w", *w.Hash, err)
	}
	if err := checkProgress(*w.Progress); err != nil {
		return TorrentSummary{}, fmt.Errorf("torrent %s: %w", *w.Hash, err)
	}
	return TorrentSummary{
		Hash:         *w.Hash,
		Name:         *w.Name,
		State:        state,
		RawState:     *w.State,
		Progress:     *w.Progress,
		DownloadRate: *w.DLSpeed,
		UploadRate:   *w.UPSpeed,
		Size:         *w.Size,
		SavePath:     *w.SavePath,
		Category:     w.Category,
		ETA:          w.ETA,
		Seeds:        w.NumSeeds,
		Leechers:     w.NumLeech,
		Ratio:        w.Ratio,
		AddedOn:      w.AddedOn,
	}, nil
}

func parseTorrentList(body []byte) ([]TorrentSummary, error) {
	var wire []wireTorrent
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	out := make([]TorrentSummary, 0, len(wire))
	for i := range wire {
		s, err := wire[i].summary()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ── /api/v2/torrents/properties ──────────────────────────────────────────────

type wireProperties struct {
	CreationDate    int64    `json:"creation_date"`
	TotalUploaded   *int64   `json:"total_uploaded"`
	TotalDownloaded *int64   `json:"total_downloaded"`
	TimeElapsed     *int64   `json:"time_elapsed"`
	SeedingTime     int64    `json:"seeding_time"`
	ShareRatio      *float64 `json:"share_ratio"`
	PieceSize       int64    `json:"piece_size"`
	Comment         string   `json:"comment"`
}

func parseProperties(body []byte) (TorrentProperties, error) {
	var w wireProperties
	if err := json.Unmarshal(body, &w); err != nil {
		return TorrentProperties{}, err
	}
	var r required
	r.need(w.TotalUploaded != nil, "total_uploaded")
	r.need(w.TotalDownloaded != nil, "total_downloaded")
	r.need(w.TimeElapsed != nil, "time_elapsed")
	r.need(w.ShareRatio != nil, "share_ratio")
	if err := r.err("properties"); err != nil {
		return TorrentProperties{}, err
	}
	return TorrentProperties{
		CreationDate:    w.CreationDate,
		TotalUploaded:   *w.TotalUploaded,
		TotalDownloaded: *w.TotalDownloaded,
		TimeElapsed:     *w.TimeElapsed,
		SeedingTime:     w.SeedingTime,
		ShareRatio:      *w.ShareRatio,
		PieceSize:       w.PieceSize,
		Comment:         w.Comment,
	}, nil
}

// ── /api/v2/torrents/files ───────────────────────────────────────────────────

type wireFile struct {
	Name     *string  `json:"name"`
	Size     *int64   `json:"size"`
	Progress *float64 `json:"progress"`
	Priority int      `json:"priority"`
}

func parseFiles(body []byte) ([]TorrentFile, error) {
	var wire []wireFile
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	out := make([]TorrentFile, 0, len(wire))
	for i, w := range wire {
		var r required
		r.need(w.Name != nil, "name")
		r.need(w.Size != nil, "size")
		r.need(w.Progress != nil, "progress")
		if err := r.err(fmt.Sprintf("file %d", i)); err != nil {
			return nil, err
		}
		if err := checkProgress(*w.Progress); err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		out = append(out, TorrentFile{
			Path:     *w.Name,
			Size:     *w.Size,
			Progress: *w.Progress,
			Priority: w.Priority,
		})
	}
	return out, nil
}

// ── /api/v2/torrents/trackers ────────────────────────────────────────────────

var trackerStatuses = map[int]string{
	0: "disabled",
	1: "not_contacted",
	2: "working",
	3: "updating",
	4: "not_working",
}

type wireTracker struct {
	URL      *string `json:"url"`
	Status   *int    `json:"status"`
	Msg      string  `json:"msg"`
	NumPeers int     `json:"num_peers"`
}

func parseTrackers(body []byte) ([]Tracker, error) {
	var wire []wireTracker
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	out := make([]Tracker, 0, len(wire))
	for i, w := range wire {
		var r required
		r.need(w.URL != nil, "url")
		r.need(w.Status != nil, "status")
		if err := r.err(fmt.Sprintf("tracker %d", i)); err != nil {
			return nil, err
		}
		status, ok := trackerStatuses[*w.Status]
		if !ok {
			return nil, fmt.Errorf("tracker %d: unrecognized status %d", i, *w.Status)
		}
		out = append(out, Tracker{URL: *w.URL, Status: status, Message: w.Msg, Peers: w.NumPeers})
	}
	return out, nil
}

// ── /api/v2/search/* ─────────────────────────────────────────────────────────

type wireSearchJob struct {
	ID *int `json:"id"`
}

type wireSearchStatus struct {
	ID     int     `json:"id"`
	Status *string `json:"status"`
	Total  int     `json:"total"`
}

type wireSearchResult struct {
	FileName   *string `json:"fileName"`
	FileURL    *string `json:"fileUrl"`
	FileSize   int64   `json:"fileSize"`
	NbSeeders  int     `json:"nbSeeders"`
	NbLeechers int     `json:"nbLeechers"`
	SiteURL    string  `json:"siteUrl"`
	DescrLink  string  `json:"descrLink"`
}

type wireSearchResults struct {
	Results []wireSearchResult `json:"results"`
	Status  *string            `json:"status"`
	Total   int                `json:"total"`
}

func parseSearchJob(body []byte) (int, error) {
	var w wireSearchJob
	if err := json.Unmarshal(body, &w); err != nil {
		return 0, err
	}
	if w.ID == nil {
		return 0, fmt.Errorf("search job: missing required fields: id")
	}
	return *w.ID, nil
}

func parseSearchStatus(body []byte) (status string, total int, err error) {
	var wire []wireSearchStatus
	if err := json.Unmarshal(body, &wire); err != nil {
		return "", 0, err
	}
	if len(wire) == 0 {
		return "", 0, fmt.Errorf("search status: empty response")
	}
	if wire[0].Status == nil {
		return "", 0, fmt.Errorf("search status: missing required fields: status")
	}
	return *wire[0].Status, wire[0].Total, nil
}

func parseSearchResults(id int, body []byte) (*SearchResults, error) {
	var w wireSearchResults
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}
	if w.Status == nil {
		return nil, fmt.Errorf("search results: missing required fields: status")
	}
	out := &SearchResults{ID: id, Status: *w.Status, Total: w.Total, Results: make([]SearchResult, 0, len(w.Results))}
	for i, r := range w.Results {
		var req required
		req.need(r.FileName != nil, "fileName")
		req.need(r.FileURL != nil, "fileUrl")
		if err := req.err(fmt.Sprintf("search result %d", i)); err != nil {
			return nil, err
		}
		res := SearchResult{
			FileName:       *r.FileName,
			FileURL:        *r.FileURL,
			FileSize:       r.FileSize,
			Seeders:        r.NbSeeders,
			Leechers:       r.NbLeechers,
			SiteURL:        r.SiteURL,
			DescriptionURL: r.DescrLink,
		}
		if parsed := torrentname.Parse(res.FileName); parsed != nil {
			res.Season = parsed.Season
			res.Episode = parsed.Episode
			res.Confidence = float64(parsed.Confidence)
		}
		out.Results = append(out.Results, res)
	}
	return out, nil
}
