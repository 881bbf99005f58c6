package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// GetPreferences returns the backend's application preferences. When keys
// are given only those settings are returned; keys the backend does not
// know are left out. Values are passed through unmodified.
func (c *Client) GetPreferences(ctx context.Context, keys ...string) (Preferences, error) {
	body, err := c.do(ctx, http.MethodGet, pathPreferences, nil, nil)
	if err != nil {
		return nil, err
	}

	var prefs Preferences
	if err := json.Unmarshal(body, &prefs); err != nil {
		return nil, decodeError(http.MethodGet, pathPreferences, err)
	}
	if prefs == nil {
		return nil, decodeError(http.MethodGet, pathPreferences, errors.New("empty preferences object"))
	}

	if len(keys) == 0 {
		return prefs, nil
	}
	filtered := make(Preferences, len(keys))
	for _, k := range keys {
		if v, ok := prefs[k]; ok {
			filtered[k] = v
		}
	}
	return filtered, nil
}
