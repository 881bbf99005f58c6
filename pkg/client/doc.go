// Package client is a Go client for the qBittorrent Web API (v2).
//
// It owns one login session and shares it between every call, so a single
// Client can serve many goroutines at once.
//
// # Connecting
//
//	c, err := client.New(client.Credentials{
//	    BaseURL:        "http://localhost:8080",
//	    Username:       "admin",
//	    Password:       "adminadmin",
//	    RequestTimeout: 30 * time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close(context.Background())
//
// Or let Scoped handle login and logout around a unit of work:
//
//	err := client.Scoped(ctx, creds, func(ctx context.Context, c *client.Client) error {
//	    torrents, err := c.ListTorrents(ctx, "downloading", "")
//	    ...
//	})
//
// # Sessions
//
// The first call logs in. When the backend rejects the session (HTTP 401
// or 403) the client logs in again and retries the call once; a second
// rejection is returned as *AuthenticationError. Concurrent callers that
// find the session expired share a single login.
//
// # Errors
//
// Failures are returned as *AuthenticationError or *APIError. APIError.Reason
// tells transport failures (connection refused, timeout, cancellation) apart
// from backend status errors and from payloads that did not match the
// expected schema:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Reason == client.ReasonTransport {
//	    // backend unreachable
//	}
//
// # Torrent details
//
// GetTorrentInfo fetches summary, properties, files and trackers in
// parallel and returns either all of them or an error:
//
//	detail, err := c.GetTorrentInfo(ctx, "8c4adbf9ebe66f1d804fb6a4fb9b74966c3ab609")
//	for _, f := range detail.Files {
//	    fmt.Println(f.Path, f.Progress)
//	}
//
// # Searching
//
// Searches run as jobs on the backend. SearchTorrents starts a job, polls it
// until it stops or the wait budget (WithSearchPolling) runs out, collects
// up to Limit results, and always removes the job afterwards.
package client
