package datasource

import (
	"time"

	"github.com/conduit-lang/crudkit/internal/orm/includes"
)

const (
	// DefaultPageSize is used when a request names no page size
	DefaultPageSize = 25
	// MaxPageSize caps any requested page size
	MaxPageSize = 10000
)

// Config holds the defaults of a data source. It is built once at the
// composition root and passed to every data source.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
	// DefaultTimeZone interprets date filters of requests that carry no
	// time zone. Nil means UTC.
	DefaultTimeZone *time.Location
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		DefaultPageSize: DefaultPageSize,
		MaxPageSize:     MaxPageSize,
		DefaultTimeZone: time.UTC,
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = DefaultPageSize
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = MaxPageSize
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
	if c.DefaultTimeZone == nil {
		c.DefaultTimeZone = time.UTC
	}
	return c
}

// Parameters carries what a client asked for in one request
type Parameters struct {
	// Includes names a server-declared include set; "none" loads no relations
	Includes string
	// Filter maps property names to filter expressions
	Filter map[string]string
	// Search is a free-text term, optionally "property:term"
	Search string
	// OrderBy is "Path [ASC|DESC], Path2 [ASC|DESC]"
	OrderBy string
	Page     int
	PageSize int
	// Fields restricts the serialized top-level properties of the response
	Fields []string
	// TimeZone interprets date-only filter values
	TimeZone *time.Location
}

// WithFilter returns a copy of p with one more filter
func (p Parameters) WithFilter(name, value string) Parameters {
	filter := make(map[string]string, len(p.Filter)+1)
	for k, v := range p.Filter {
		filter[k] = v
	}
	filter[name] = value
	p.Filter = filter
	return p
}

// IncludesNone reports whether the request asked for no relations at all
func (p Parameters) IncludesNone() bool {
	return includes.IsNone(p.Includes)
}
