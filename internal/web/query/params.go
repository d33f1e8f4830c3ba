// Package query turns request query strings into data source parameters.
package query

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/crudkit/internal/orm/datasource"
)

// filterPattern matches query parameters like filter[key]
var filterPattern = regexp.MustCompile(`^filter\[([^\]]+)\]$`)

// filterPrefix introduces dotted filters like filter.key
const filterPrefix = "filter."

// ParseParameters reads the list and item parameters of r.
//
// Recognized keys: includes, search, orderBy, page, pageSize, fields, tz
// and filter.<Prop> or filter[<Prop>]. Malformed numbers and unknown time
// zones are reported as errors; everything else is passed through for the
// data source to interpret.
func ParseParameters(r *http.Request) (datasource.Parameters, error) {
	return ParseValues(r.URL.Query())
}

// ParseValues is ParseParameters over already parsed values
func ParseValues(values url.Values) (datasource.Parameters, error) {
	p := datasource.Parameters{
		Includes: strings.TrimSpace(values.Get("includes")),
		Search:   strings.TrimSpace(values.Get("search")),
		OrderBy:  strings.TrimSpace(values.Get("orderBy")),
		Filter:   ParseFilter(values),
		Fields:   ParseFields(values),
	}

	var err error
	if p.Page, err = parseInt(values, "page"); err != nil {
		return p, err
	}
	if p.PageSize, err = parseInt(values, "pageSize"); err != nil {
		return p, err
	}
	if tz := strings.TrimSpace(values.Get("tz")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return p, fmt.Errorf("invalid time zone %q", tz)
		}
		p.TimeZone = loc
	}
	return p, nil
}

// ParseFields parses the fields query parameter into property names.
// Example: ?fields=name,email returns ["name", "email"]
// Returns nil if the fields parameter is not present.
func ParseFields(values url.Values) []string {
	return splitList(values.Get("fields"))
}

// ParseFilter parses the filter query parameters into a map of filter keys to values.
// Example: ?filter[status]=published&filter.authorId=123
// Returns: {"status": "published", "authorId": "123"}
// Returns an empty map if no filter parameters are present.
func ParseFilter(values url.Values) map[string]string {
	result := make(map[string]string)

	for key, vals := range values {
		var name string
		if matches := filterPattern.FindStringSubmatch(key); len(matches) == 2 {
			name = matches[1]
		} else if strings.HasPrefix(key, filterPrefix) {
			name = strings.TrimPrefix(key, filterPrefix)
		}
		if name == "" || len(vals) == 0 {
			continue
		}
		result[name] = vals[0]
	}

	return result
}

func parseInt(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
