package source

import (
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

// shapeRecognizer either claims a decoded payload and returns its items, or
// declines.
type shapeRecognizer struct {
	name  string
	match func(data any) ([]map[string]any, bool)
}

// Recognizers are tried in order; the first match wins.
var recognizers = []shapeRecognizer{
	{name: "array", match: topLevelArray},
	{name: "profiles", match: containerKey("profiles")},
	{name: "items", match: containerKey("items")},
	{name: "data", match: containerKey("data")},
}

// Admissible field names, in priority order.
var (
	identityKeys  = []string{"username", "user", "handle", "id"}
	followersKeys = []string{"followers", "followers_count"}
	followingKeys = []string{"following", "following_count"}
	bioKeys       = []string{"bio", "description"}
	linkKeys      = []string{"link_domains", "links"}
	activityKeys  = []string{"recent_activity_ts", "recent_activity", "updated_at"}
)

func recognizeShape(data any) ([]map[string]any, string) {
	for _, r := range recognizers {
		if items, ok := r.match(data); ok {
			return items, r.name
		}
	}
	return nil, "unknown"
}

func topLevelArray(data any) ([]map[string]any, bool) {
	list, ok := data.([]any)
	if !ok {
		return nil, false
	}
	return objects(list), true
}

func containerKey(key string) func(any) ([]map[string]any, bool) {
	return func(data any) ([]map[string]any, bool) {
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, false
		}
		list, ok := obj[key].([]any)
		if !ok {
			return nil, false
		}
		return objects(list), true
	}
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// recordFromItem maps one provider item. Items without a usable identity are
// rejected.
func recordFromItem(item map[string]any) (crawler.RawRecord, bool) {
	identity := ""
	for _, k := range identityKeys {
		if s, ok := identityValue(item[k]); ok {
			identity = s
			break
		}
	}
	if identity == "" {
		return crawler.RawRecord{}, false
	}

	rec := crawler.RawRecord{
		Identity:    identity,
		Followers:   firstInt(item, followersKeys),
		Following:   firstInt(item, followingKeys),
		IsPrivate:   item["is_private"] == true,
		Bio:         firstString(item, bioKeys),
		Captions:    stringList(item["captions"]),
		Images:      imageList(item["images"]),
		LinkDomains: hostList(firstList(item, linkKeys)),
	}
	if ts := firstString(item, activityKeys); ts != "" {
		rec.RecentActivityTS = &ts
	}
	return rec, true
}

// identityValue accepts any non-empty string, including "0", but rejects a
// numeric zero id.
func identityValue(v any) (string, bool) {
	s, ok := scalarString(v)
	if !ok || s == "" {
		return "", false
	}
	if _, isString := v.(string); !isString {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == 0 {
			return "", false
		}
	}
	return s, true
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func firstString(item map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := scalarString(item[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstInt(item map[string]any, keys []string) int {
	for _, k := range keys {
		if n, ok := toInt(item[k]); ok && n != 0 {
			return n
		}
	}
	return 0
}

func firstList(item map[string]any, keys []string) []any {
	for _, k := range keys {
		if list, ok := item[k].([]any); ok && len(list) > 0 {
			return list
		}
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil && !math.IsInf(f, 0) {
			return int(f), true
		}
	case float64:
		return int(t), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func imageList(v any) []crawler.Image {
	list, _ := v.([]any)
	out := make([]crawler.Image, 0, len(list))
	for _, e := range list {
		switch t := e.(type) {
		case string:
			if t != "" {
				out = append(out, crawler.Image{URL: t})
			}
		case map[string]any:
			img := crawler.Image{URL: firstString(t, []string{"url", "src"})}
			if img.URL == "" {
				continue
			}
			img.Width = optionalInt(t, "w", "width")
			img.Height = optionalInt(t, "h", "height")
			out = append(out, img)
		}
	}
	return out
}

func optionalInt(m map[string]any, keys ...string) *int {
	for _, k := range keys {
		if n, ok := toInt(m[k]); ok {
			return &n
		}
	}
	return nil
}

// hostList keeps bare hostnames as they are and reduces URLs to their host.
func hostList(list []any) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok {
			continue
		}
		if host := hostname(strings.TrimSpace(s)); host != "" {
			out = append(out, host)
		}
	}
	return out
}

func hostname(s string) string {
	if !strings.Contains(s, "://") {
		return strings.ToLower(s)
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
