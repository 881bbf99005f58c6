package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jmerrifield20/qbittorrent-mcp/pkg/client"
)

// Backend is the set of qBittorrent operations the tools delegate to.
// *client.Client satisfies it.
type Backend interface {
	ListTorrents(ctx context.Context, filter, category string) ([]client.TorrentSummary, error)
	GetTorrentInfo(ctx context.Context, hash string) (*client.TorrentDetail, error)
	AddTorrent(ctx context.Context, req client.AddRequest) (*client.ActionOutcome, error)
	ControlTorrent(ctx context.Context, hashes []string, action client.Action, deleteFiles bool) (*client.ActionOutcome, error)
	SearchTorrents(ctx context.Context, req client.SearchRequest) (*client.SearchResults, error)
	GetPreferences(ctx context.Context, keys ...string) (client.Preferences, error)
}

// ToolDefinition is the MCP tool descriptor sent in tools/list responses.
type ToolDefinition struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// Recorder is told the outcome and duration of every tool call.
type Recorder func(tool, outcome string, d time.Duration)

type handlerFunc func(ctx context.Context, args json.RawMessage) Result

// ToolRegistry holds the tool catalog and dispatches calls to the backend.
// It keeps no per-call state and is safe for concurrent use.
type ToolRegistry struct {
	backend  Backend
	validate *validator.Validate
	logger   *zap.Logger
	recorder Recorder

	defs     []ToolDefinition
	handlers map[string]handlerFunc
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *ToolRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRecorder registers a per-call callback, typically metrics.
func WithRecorder(rec Recorder) RegistryOption {
	return func(r *ToolRegistry) { r.recorder = rec }
}

// Tool names.
const (
	ToolListTorrents   = "qb_list_torrents"
	ToolTorrentInfo    = "qb_torrent_info"
	ToolAddTorrent     = "qb_add_torrent"
	ToolControlTorrent = "qb_control_torrent"
	ToolSearchTorrents = "qb_search_torrents"
	ToolGetPreferences = "qb_get_preferences"
)

// torrentFilters are the state filters the backend's torrent list accepts.
var torrentFilters = []string{
	"all", "downloading", "seeding", "completed", "paused", "stopped",
	"active", "inactive", "resumed", "running", "stalled",
	"stalled_uploading", "stalled_downloading", "checking", "moving", "errored",
}

// NewToolRegistry creates a ToolRegistry backed by b.
func NewToolRegistry(b Backend, opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		backend:  b,
		validate: newValidator(),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}

	r.defs = []ToolDefinition{
		{
			Name: ToolListTorrents,
			Description: "List torrents, optionally filtered by state and category. " +
				"Returns hash, name, state, progress, speeds, size and ratio for each torrent.",
			InputSchema: object(map[string]any{
				"filter":   enumProp("Filter torrents by state. Omit for all torrents.", torrentFilters),
				"category": stringProp("Only torrents in this category.", 0, 255),
			}),
			OutputSchema: resultSchema(object(map[string]any{
				"count":    map[string]any{"type": "integer"},
				"torrents": arrayOf(torrentSummarySchema()),
			}, "count", "torrents")),
		},
		{
			Name: ToolTorrentInfo,
			Description: "Get detailed information for one torrent: summary, transfer statistics, " +
				"files and trackers.",
			InputSchema: object(map[string]any{
				"hash": hashProp("Info-hash of the torrent (40 hex characters)."),
			}, "hash"),
			OutputSchema: resultSchema(torrentDetailSchema()),
		},
		{
			Name: ToolAddTorrent,
			Description: "Add one or more torrents by magnet link or .torrent URL. " +
				"The backend does not report the new torrents' hashes; list torrents afterwards to find them.",
			InputSchema: object(map[string]any{
				"urls": map[string]any{
					"type":        "array",
					"description": "Magnet links or http(s) URLs of .torrent files.",
					"items":       map[string]any{"type": "string", "minLength": 1},
					"minItems":    1,
					"maxItems":    50,
				},
				"save_path": stringProp("Download directory. Uses the backend default when omitted.", 0, 4096),
				"category":  stringProp("Category to assign.", 0, 255),
				"paused":    boolProp("Add the torrents without starting them."),
			}, "urls"),
			OutputSchema: resultSchema(nil),
		},
		{
			Name:        ToolControlTorrent,
			Description: "Pause, resume or delete one or more torrents.",
			InputSchema: object(map[string]any{
				"hashes": map[string]any{
					"type":        "array",
					"description": "Info-hashes of the torrents to act on.",
					"items":       hashProp(""),
					"minItems":    1,
					"maxItems":    100,
				},
				"action":       enumProp("Action to perform.", []string{"pause", "resume", "delete"}),
				"delete_files": boolProp("With action=delete, also delete downloaded data. Ignored otherwise."),
			}, "hashes", "action"),
			OutputSchema: resultSchema(nil),
		},
		{
			Name: ToolSearchTorrents,
			Description: "Search for torrents using qBittorrent's search plugins. Searches run asynchronously " +
				"on the backend; results gathered within the wait budget are returned and status tells " +
				"whether the search finished.",
			InputSchema: object(map[string]any{
				"query":    stringProp("Search terms.", 2, 200),
				"plugins":  stringProp(`Plugins to use: "all", "enabled", or names separated by "|". Default "all".`, 0, 200),
				"category": stringProp(`Search category, e.g. "movies" or "tv". Default "all".`, 0, 64),
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results. Default 100.",
					"minimum":     1,
					"maximum":     500,
				},
			}, "query"),
			OutputSchema: resultSchema(searchResultsSchema()),
		},
		{
			Name:        ToolGetPreferences,
			Description: "Get qBittorrent application preferences: download paths, speed limits, connection settings and more.",
			InputSchema: object(map[string]any{
				"keys": map[string]any{
					"type":        "array",
					"description": "Only return these settings. Omit for all of them.",
					"items":       map[string]any{"type": "string", "minLength": 1, "maxLength": 128},
					"maxItems":    200,
				},
			}),
			OutputSchema: resultSchema(map[string]any{"type": "object"}),
		},
	}

	r.handlers = map[string]handlerFunc{
		ToolListTorrents:   r.listTorrents,
		ToolTorrentInfo:    r.torrentInfo,
		ToolAddTorrent:     r.addTorrent,
		ToolControlTorrent: r.controlTorrent,
		ToolSearchTorrents: r.searchTorrents,
		ToolGetPreferences: r.getPreferences,
	}
	return r
}

// Definitions returns the list of tool definitions for tools/list responses.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	return r.defs
}

// Has reports whether name is a known tool.
func (r *ToolRegistry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Call dispatches a tool call by name. It never panics and never returns a
// raw error: every outcome is a Result.
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (res Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panicked", zap.String("tool", name), zap.Any("panic", p), zap.Stack("stack"))
			res = failf(ReasonInternal, "internal error in %s", name)
		}
		if r.recorder != nil {
			r.recorder(name, res.Outcome(), time.Since(start))
		}
	}()

	h, found := r.handlers[name]
	if !found {
		return failf(ReasonUnknownTool, "unknown tool: %q", name)
	}
	res = h(ctx, args)
	if !res.Success {
		r.logger.Debug("tool call failed",
			zap.String("tool", name),
			zap.String("reason", string(res.Reason)),
			zap.String("error", res.Error),
		)
	}
	return res
}

// bind decodes and validates args into dst. A non-nil Result means the
// input was rejected.
func (r *ToolRegistry) bind(args json.RawMessage, dst any) *Result {
	if err := decodeArgs(args, dst); err != nil {
		res := fail(ReasonInvalidInput, err.Error())
		return &res
	}
	if err := r.validate.Struct(dst); err != nil {
		res := fail(ReasonInvalidInput, describeValidation(err))
		return &res
	}
	return nil
}

// ── tool handlers ────────────────────────────────────────────────────────────

type listTorrentsArgs struct {
	Filter   string `json:"filter"   validate:"omitempty,oneof=all downloading seeding completed paused stopped active inactive resumed running stalled stalled_uploading stalled_downloading checking moving errored"`
	Category string `json:"category" validate:"max=255"`
}

type torrentList struct {
	Count    int                     `json:"count"`
	Torrents []client.TorrentSummary `json:"torrents"`
}

func (r *ToolRegistry) listTorrents(ctx context.Context, args json.RawMessage) Result {
	var in listTorrentsArgs
	if rej := r.bind(args, &in); rej != nil {
		return *rej
	}
	list, err := r.backend.ListTorrents(ctx, in.Filter, in.Category)
	if err != nil {
		return fromError(err)
	}
	return ok(fmt.Sprintf("%d torrent(s)", len(list)), torrentList{Count: len(list), Torrents: list})
}

type torrentInfoArgs struct {
	Hash string `json:"hash" validate:"required,infohash"`
}

func (r *ToolRegistry) torrentInfo(ctx context.Context, args json.RawMessage) Result {
	var in torrentInfoArgs
	if rej := r.bind(args, &in); rej != nil {
		return *rej
	}
	detail, err := r.backend.GetTorrentInfo(ctx, in.Hash)
	if err != nil {
		return fromError(err)
	}
	return ok("", detail)
}

type addTorrentArgs struct {
	URLs     []string `json:"urls"      validate:"required,min=1,max=50,dive,required,magnet|http_url"`
	SavePath string   `json:"save_path" validate:"max=4096"`
	Category string   `json:"category"  validate:"max=255"`
	Paused   bool     `json:"paused"`
}

func (r *ToolRegistry) addTorrent(ctx context.Context, args json.RawMessage) Result {
	var in addTorrentArgs
	if rej := r.bind(args, &in); rej != nil {
		return *rej
	}
	out, err := r.backend.AddTorrent(ctx, client.AddRequest{
		URLs:     in.URLs,
		SavePath: in.SavePath,
		Category: in.Category,
		Paused:   in.Paused,
	})
	if err != nil {
		return fromError(err)
	}
	return outcome(out)
}

type controlTorrentArgs struct {
	Hashes      []string `json:"hashes"       validate:"required,min=1,max=100,dive,infohash"`
	Action      string   `json:"action"       validate:"required,oneof=pause resume delete"`
	DeleteFiles bool     `json:"delete_files"`
}

func (r *ToolRegistry) controlTorrent(ctx context.Context, args json.RawMessage) Result {
	var in controlTorrentArgs
	if rej := r.bind(args, &in); rej != nil {
		return *rej
	}
	out, err := r.backend.ControlTorrent(ctx, in.Hashes, client.Action(in.Action), in.DeleteFiles)
	if err != nil {
		return fromError(err)
	}
	return outcome(out)
}

type searchTorrentsArgs struct {
	Query    string `json:"query"    validate:"required,min=2,max=200"`
	Plugins  string `json:"plugins"  validate:"max=200"`
	Category string `json:"category" validate:"max=64"`
	Limit    *int   `json:"limit"    validate:"omitempty,min=1,max=500"`
}

type searchData struct {
	Query string `json:"query"`
	*client.SearchResults
}

func (r *ToolRegistry) searchTorrents(ctx context.Context, args json.RawMessage) Result {
	var in searchTorrentsArgs
	if err := decodeArgs(args, &in); err != nil {
		return fail(ReasonInvalidInput, err.Error())
	}
	in.Query = strings.TrimSpace(in.Query)
	if err := r.validate.Struct(&in); err != nil {
		return fail(ReasonInvalidInput, describeValidation(err))
	}

	req := client.SearchRequest{
		Query:    in.Query,
		Plugins:  orDefault(in.Plugins, "all"),
		Category: orDefault(in.Category, "all"),
		Limit:    100,
	}
	if in.Limit != nil {
		req.Limit = *in.Limit
	}

	res, err := r.backend.SearchTorrents(ctx, req)
	if err != nil {
		return fromError(err)
	}
	return ok(fmt.Sprintf("%d result(s), search %s", len(res.Results), strings.ToLower(res.Status)),
		searchData{Query: in.Query, SearchResults: res})
}

type getPreferencesArgs struct {
	Keys []string `json:"keys" validate:"max=200,dive,min=1,max=128"`
}

func (r *ToolRegistry) getPreferences(ctx context.Context, args json.RawMessage) Result {
	var in getPreferencesArgs
	if rej := r.bind(args, &in); rej != nil {
		return *rej
	}
	prefs, err := r.backend.GetPreferences(ctx, in.Keys...)
	if err != nil {
		return fromError(err)
	}
	return ok("", prefs)
}

func outcome(out *client.ActionOutcome) Result {
	if out == nil {
		return fail(ReasonInternal, "backend returned no outcome")
	}
	if !out.Success {
		return fail(ReasonBackend, out.Error)
	}
	return ok(out.Message, nil)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
