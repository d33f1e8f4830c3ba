package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// TagName is the struct tag holding property metadata
const TagName = "crud"

// tagOptions is a parsed `crud:"..."` tag
type tagOptions struct {
	skip  bool
	flags map[string]bool
	vals  map[string][]string
}

// parseTag parses comma separated options. Values follow "=" and multiple
// values are separated with "|".
func parseTag(tag string) tagOptions {
	opts := tagOptions{flags: map[string]bool{}, vals: map[string][]string{}}
	tag = strings.TrimSpace(tag)
	if tag == "-" {
		opts.skip = true
		return opts
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, hasValue := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		opts.flags[name] = true
		if !hasValue {
			continue
		}
		for _, v := range strings.Split(value, "|") {
			if v = strings.TrimSpace(v); v != "" {
				opts.vals[name] = append(opts.vals[name], v)
			}
		}
	}
	return opts
}

func (o tagOptions) has(name string) bool {
	return o.flags[name]
}

func (o tagOptions) values(name string) []string {
	return o.vals[name]
}

func (o tagOptions) value(name string) string {
	if v := o.vals[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// apply copies the parsed options onto a property
func (o tagOptions) apply(p *Property) error {
	p.IsKey = o.has("key")
	p.Internal = p.Internal || o.has("internal")
	p.Unmapped = p.Unmapped || o.has("unmapped")
	p.ReadOnly = o.has("readonly")
	p.DateOnly = o.has("dateonly")
	p.ReadRoles = o.values("read")
	p.EditRoles = o.values("edit")
	p.Restrictions = o.values("restrict")
	p.DtoIncludes = o.values("include")
	p.DtoExcludes = o.values("exclude")
	p.ForeignKey = o.value("fk")
	p.InverseKey = o.value("inverse")

	if o.has("search") {
		switch strings.ToLower(o.value("search")) {
		case "", "begins", "beginswith":
			p.Search = SearchBeginsWith
		case "contains":
			p.Search = SearchContains
		case "equals":
			p.Search = SearchEquals
		default:
			return fmt.Errorf("unknown search mode %q", o.value("search"))
		}
	}
	p.SplitOnSpaces = !o.has("nosplit")

	if o.has("order") {
		n := 1
		if v := o.value("order"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 {
				return fmt.Errorf("order priority must be a positive integer, got %q", v)
			}
			n = parsed
		}
		p.OrderPriority = n
		p.OrderDesc = o.has("desc")
	}
	return nil
}
