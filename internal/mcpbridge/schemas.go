package mcpbridge

// JSON Schema builders for the tool catalog.

func object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(desc string, minLen, maxLen int) map[string]any {
	p := map[string]any{"type": "string", "description": desc}
	if minLen > 0 {
		p["minLength"] = minLen
	}
	if maxLen > 0 {
		p["maxLength"] = maxLen
	}
	return p
}

func enumProp(desc string, values []string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc, "default": false}
}

func hashProp(desc string) map[string]any {
	p := map[string]any{"type": "string", "pattern": "^[0-9a-fA-F]{40}$"}
	if desc != "" {
		p["description"] = desc
	}
	return p
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func typed(t string) map[string]any { return map[string]any{"type": t} }

// resultSchema wraps a data schema in the common result envelope. A nil
// data schema means the tool returns only a message.
func resultSchema(data map[string]any) map[string]any {
	props := map[string]any{
		"success": typed("boolean"),
		"message": typed("string"),
		"error":   typed("string"),
		"reason": map[string]any{
			"type": "string",
			"enum": []string{
				string(ReasonInvalidInput), string(ReasonUnknownTool), string(ReasonAuthentication),
				string(ReasonTransport), string(ReasonBackend), string(ReasonCancelled), string(ReasonInternal),
			},
		},
	}
	if data != nil {
		props["data"] = data
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   []string{"success"},
	}
}

func torrentSummaryProps() map[string]any {
	return map[string]any{
		"hash":          hashProp(""),
		"name":          typed("string"),
		"state":         enumProp("", []string{"downloading", "seeding", "paused", "completed", "error", "stalled", "queued", "checking", "moving", "unknown"}),
		"raw_state":     typed("string"),
		"progress":      map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"download_rate": typed("integer"),
		"upload_rate":   typed("integer"),
		"size":          typed("integer"),
		"save_path":     typed("string"),
		"category":      typed("string"),
		"eta":           typed("integer"),
		"num_seeds":     typed("integer"),
		"num_leechs":    typed("integer"),
		"ratio":         typed("number"),
		"added_on":      typed("integer"),
	}
}

var summaryRequired = []string{"hash", "name", "state", "progress", "download_rate", "upload_rate", "size", "save_path"}

func torrentSummarySchema() map[string]any {
	return map[string]any{"type": "object", "properties": torrentSummaryProps(), "required": summaryRequired}
}

func torrentDetailSchema() map[string]any {
	props := torrentSummaryProps()
	props["properties"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"creation_date":    typed("integer"),
			"total_uploaded":   typed("integer"),
			"total_downloaded": typed("integer"),
			"time_elapsed":     typed("integer"),
			"seeding_time":     typed("integer"),
			"share_ratio":      typed("number"),
			"piece_size":       typed("integer"),
			"comment":          typed("string"),
		},
	}
	props["files"] = arrayOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":     typed("string"),
			"size":     typed("integer"),
			"progress": typed("number"),
			"priority": typed("integer"),
		},
		"required": []string{"path", "size", "progress"},
	})
	props["trackers"] = arrayOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":       typed("string"),
			"status":    enumProp("", []string{"disabled", "not_contacted", "working", "updating", "not_working"}),
			"message":   typed("string"),
			"num_peers": typed("integer"),
		},
		"required": []string{"url", "status"},
	})
	required := append([]string{"properties", "files", "trackers"}, summaryRequired...)
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func searchResultsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":  typed("string"),
			"id":     typed("integer"),
			"status": typed("string"),
			"total":  typed("integer"),
			"results": arrayOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_name":       typed("string"),
					"file_url":        typed("string"),
					"file_size":       typed("integer"),
					"seeders":         typed("integer"),
					"leechers":        typed("integer"),
					"site_url":        typed("string"),
					"description_url": typed("string"),
					"season":          typed("integer"),
					"episode":         typed("integer"),
					"confidence":      typed("number"),
				},
				"required": []string{"file_name", "file_url"},
			}),
		},
		"required": []string{"query", "id", "status", "results"},
	}
}
