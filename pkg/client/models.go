package client

import "encoding/json"

// State is the normalized lifecycle state of a torrent.
type State string

const (
	StateDownloading State = "downloading"
	StateSeeding     State = "seeding"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateError       State = "error"
	StateStalled     State = "stalled"
	StateQueued      State = "queued"
	StateChecking    State = "checking"
	StateMoving      State = "moving"
	StateUnknown     State = "unknown"
)

// TorrentSummary is one entry of the torrent list.
type TorrentSummary struct {
	Hash         string  `json:"hash"`
	Name         string  `json:"name"`
	State        State   `json:"state"`
	RawState     string  `json:"raw_state"`
	Progress     float64 `json:"progress"`
	DownloadRate int64   `json:"download_rate"`
	UploadRate   int64   `json:"upload_rate"`
	Size         int64   `json:"size"`
	SavePath     string  `json:"save_path"`
	Category     string  `json:"category"`
	ETA          int64   `json:"eta"`
	Seeds        int     `json:"num_seeds"`
	Leechers     int     `json:"num_leechs"`
	Ratio        float64 `json:"ratio"`
	AddedOn      int64   `json:"added_on,omitempty"`
}

// TorrentFile is a single file inside a torrent.
type TorrentFile struct {
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	Priority int     `json:"priority"`
}

// Tracker is one announce URL of a torrent and its last known status.
type Tracker struct {
	URL     string `json:"url"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Peers   int    `json:"num_peers"`
}

// TorrentProperties holds transfer statistics that are only available from
// the per-torrent properties endpoint.
type TorrentProperties struct {
	CreationDate    int64   `json:"creation_date"`
	TotalUploaded   int64   `json:"total_uploaded"`
	TotalDownloaded int64   `json:"total_downloaded"`
	TimeElapsed     int64   `json:"time_elapsed"`
	SeedingTime     int64   `json:"seeding_time"`
	ShareRatio      float64 `json:"share_ratio"`
	PieceSize       int64   `json:"piece_size"`
	Comment         string  `json:"comment,omitempty"`
}

// TorrentDetail is a TorrentSummary joined with its files, trackers and
// transfer properties.
type TorrentDetail struct {
	TorrentSummary
	Properties TorrentProperties `json:"properties"`
	Files      []TorrentFile     `json:"files"`
	Trackers   []Tracker         `json:"trackers"`
}

// ActionOutcome is the result of a mutating call. Exactly one of Message and
// Error is set.
type ActionOutcome struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Preferences maps backend setting names to their raw JSON values.
type Preferences map[string]json.RawMessage

// AddRequest describes torrents to add.
type AddRequest struct {
	URLs     []string
	SavePath string
	Category string
	Paused   bool
}

// SearchRequest describes a search through the backend's search plugins.
type SearchRequest struct {
	Query    string
	Plugins  string // "all", "enabled", or a "|" separated plugin list
	Category string
	Limit    int
}

// SearchResult is one hit returned by a search plugin. Season, Episode and
// Confidence are derived from the release name and are zero when it could
// not be parsed.
type SearchResult struct {
	FileName       string  `json:"file_name"`
	FileURL        string  `json:"file_url"`
	FileSize       int64   `json:"file_size"`
	Seeders        int     `json:"seeders"`
	Leechers       int     `json:"leechers"`
	SiteURL        string  `json:"site_url"`
	DescriptionURL string  `json:"description_url,omitempty"`
	Season         int     `json:"season,omitempty"`
	Episode        int     `json:"episode,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
}

// SearchResults is whatever a search job produced before it was collected.
// Status is "Stopped" when the job finished, "Running" when the wait budget
// ran out first.
type SearchResults struct {
	ID      int            `json:"id"`
	Status  string         `json:"status"`
	Total   int            `json:"total"`
	Results []SearchResult `json:"results"`
}
