package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(target string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   Params
	}{
		{"defaults", "/", Params{Limit: DefaultLimit, Offset: 0}},
		{"limit and offset", "/?limit=50&offset=10", Params{Limit: 50, Offset: 10}},
		{"fhir params", "/?_count=25&_offset=5", Params{Limit: 25, Offset: 5}},
		{"fhir params win", "/?_count=7&limit=30", Params{Limit: 7, Offset: 0}},
		{"capped", "/?limit=500", Params{Limit: MaxLimit, Offset: 0}},
		{"negative offset", "/?offset=-5", Params{Limit: DefaultLimit, Offset: 0}},
		{"garbage", "/?limit=abc&offset=xyz", Params{Limit: DefaultLimit, Offset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := paramsFor(tt.target); got != tt.want {
				t.Errorf("FromContext(%s) = %+v, want %+v", tt.target, got, tt.want)
			}
		})
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   bool
	}{
		{"more results", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact end", Params{Limit: 10, Offset: 15}, 25, false},
		{"past end", Params{Limit: 10, Offset: 30}, 25, false},
		{"no results", Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"a", "b", "c"}
	r := NewResponse(data, 10, 3, 0)
	if r.Total != 10 || !r.HasMore {
		t.Errorf("expected total 10 with more pages, got %+v", r)
	}
	if r.NextOffset == nil || *r.NextOffset != 3 {
		t.Errorf("expected next offset 3, got %v", r.NextOffset)
	}

	last := NewResponse(data, 3, 3, 0)
	if last.HasMore || last.NextOffset != nil {
		t.Errorf("expected last page, got %+v", last)
	}
}
