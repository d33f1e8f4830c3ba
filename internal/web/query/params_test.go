package query

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestParseFields(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected []string
	}{
		{
			name:     "nil when not present",
			url:      "/api/person/list",
			expected: nil,
		},
		{
			name:     "single field",
			url:      "/api/person/list?fields=name",
			expected: []string{"name"},
		},
		{
			name:     "trims whitespace and drops empties",
			url:      "/api/person/list?fields=name,,%20email%20",
			expected: []string{"name", "email"},
		},
		{
			name:     "empty string parameter",
			url:      "/api/person/list?fields=",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			result := ParseFields(req.URL.Query())
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("ParseFields() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected map[string]string
	}{
		{
			name:     "empty when not present",
			url:      "/api/person/list",
			expected: map[string]string{},
		},
		{
			name:     "bracket syntax",
			url:      "/api/person/list?filter[lastName]=Love*",
			expected: map[string]string{"lastName": "Love*"},
		},
		{
			name:     "dotted syntax",
			url:      "/api/person/list?filter.age=36,41",
			expected: map[string]string{"age": "36,41"},
		},
		{
			name:     "both syntaxes together",
			url:      "/api/person/list?filter.age=36&filter[level]=senior&page=2",
			expected: map[string]string{"age": "36", "level": "senior"},
		},
		{
			name:     "empty value is kept for the data source to ignore",
			url:      "/api/person/list?filter.age=",
			expected: map[string]string{"age": ""},
		},
		{
			name:     "bare prefix ignored",
			url:      "/api/person/list?filter.=x&filter[]=y",
			expected: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			result := ParseFilter(req.URL.Query())
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("ParseFilter() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseParameters(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/api/person/list?includes=details&search=lastName:love&orderBy=Age%20DESC&page=2&pageSize=10&fields=firstName&tz=Europe/Berlin&filter.age=36", nil)

	p, err := ParseParameters(req)
	if err != nil {
		t.Fatalf("ParseParameters() error = %v", err)
	}
	if p.Includes != "details" {
		t.Errorf("Includes = %q, want %q", p.Includes, "details")
	}
	if p.Search != "lastName:love" {
		t.Errorf("Search = %q", p.Search)
	}
	if p.OrderBy != "Age DESC" {
		t.Errorf("OrderBy = %q", p.OrderBy)
	}
	if p.Page != 2 || p.PageSize != 10 {
		t.Errorf("Page, PageSize = %d, %d, want 2, 10", p.Page, p.PageSize)
	}
	if !reflect.DeepEqual(p.Fields, []string{"firstName"}) {
		t.Errorf("Fields = %v", p.Fields)
	}
	if p.TimeZone == nil || p.TimeZone.String() != "Europe/Berlin" {
		t.Errorf("TimeZone = %v", p.TimeZone)
	}
	if p.Filter["age"] != "36" {
		t.Errorf("Filter = %v", p.Filter)
	}
}

func TestParseParameters_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/person/list", nil)

	p, err := ParseParameters(req)
	if err != nil {
		t.Fatalf("ParseParameters() error = %v", err)
	}
	if p.Page != 0 || p.PageSize != 0 || p.TimeZone != nil || p.Fields != nil {
		t.Errorf("unexpected defaults: %+v", p)
	}
}

func TestParseParameters_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "page not a number", url: "/api/person/list?page=two"},
		{name: "page size not a number", url: "/api/person/list?pageSize=1.5"},
		{name: "unknown time zone", url: "/api/person/list?tz=Mars/Olympus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if _, err := ParseParameters(req); err == nil {
				t.Error("ParseParameters() expected an error")
			}
		})
	}
}
