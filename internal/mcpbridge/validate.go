package mcpbridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jmerrifield20/qbittorrent-mcp/pkg/client"
)

var (
	btihRe = regexp.MustCompile(`^urn:btih:([0-9a-fA-F]{40}|[A-Za-z2-7]{32})$`)
	btmhRe = regexp.MustCompile(`^urn:btmh:[0-9a-fA-F]{4,}$`)
)

// isMagnet accepts a magnet link carrying a BitTorrent content identifier.
// Plain .torrent URLs are left to validator's http_url.
func isMagnet(s string) bool {
	u, err := url.Parse(s)
	if err != nil || !strings.EqualFold(u.Scheme, "magnet") {
		return false
	}
	for _, xt := range u.Query()["xt"] {
		if btihRe.MatchString(xt) || btmhRe.MatchString(xt) {
			return true
		}
	}
	return false
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("infohash", func(fl validator.FieldLevel) bool {
		return client.IsInfoHash(fl.Field().String())
	})
	_ = v.RegisterValidation("magnet", func(fl validator.FieldLevel) bool {
		return isMagnet(fl.Field().String())
	})
	return v
}

// decodeArgs strictly decodes tool arguments into dst. Missing or null
// arguments decode as an empty object.
func decodeArgs(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%s: must be of type %s", typeErr.Field, jsonType(typeErr.Type))
		}
		return fmt.Errorf("arguments: %s", strings.TrimPrefix(err.Error(), "json: "))
	}
	if dec.More() {
		return errors.New("arguments: unexpected data after JSON object")
	}
	return nil
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "integer"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Pointer:
		return jsonType(t.Elem())
	default:
		return t.Kind().String()
	}
}

// describeValidation turns validator errors into one line per field,
// naming fields by their JSON names.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, found := strings.Cut(field, "."); found {
			field = rest
		}
		msgs = append(msgs, field+": "+fieldMessage(fe))
	}
	return strings.Join(msgs, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	counted := "characters"
	if k := fe.Kind(); k == reflect.Slice || k == reflect.Array || k == reflect.Map {
		counted = "items"
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Int {
			return "must be at least " + fe.Param()
		}
		return fmt.Sprintf("must have at least %s %s", fe.Param(), counted)
	case "max":
		if fe.Kind() == reflect.Int {
			return "must be at most " + fe.Param()
		}
		return fmt.Sprintf("must have at most %s %s", fe.Param(), counted)
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "infohash":
		return "must be exactly 40 hexadecimal characters"
	case "magnet", "http_url", "magnet|http_url":
		return "must be a magnet link (xt=urn:btih: or urn:btmh:) or an absolute http(s) URL"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
