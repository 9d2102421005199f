package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(t *testing.T, target string) echo.Context {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec)
}

func TestCurrentUserID(t *testing.T) {
	tests := []struct {
		name   string
		claim  interface{}
		want   uint64
		wantOK bool
	}{
		{"float64 claim", float64(42), 42, true},
		{"string claim", "7", 7, true},
		{"zero", float64(0), 0, false},
		{"garbage string", "abc", 0, false},
		{"missing", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newContext(t, "/")
			if tt.claim != nil {
				c.Set("user_id", tt.claim)
			}
			got, ok := currentUserID(c)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("currentUserID = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPageParams(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantPage  int
		wantLimit int
		wantOK    bool
	}{
		{"defaults", "", 1, 10, true},
		{"explicit", "?page=3&limit=25", 3, 25, true},
		{"limit at cap", "?limit=50", 1, 50, true},
		{"limit over cap", "?limit=51", 0, 0, false},
		{"zero page", "?page=0", 0, 0, false},
		{"negative limit", "?limit=-1", 0, 0, false},
		{"non-numeric", "?page=two", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newContext(t, "/v1/history"+tt.query)
			page, limit, ok := pageParams(c, 10)
			if page != tt.wantPage || limit != tt.wantLimit || ok != tt.wantOK {
				t.Errorf("pageParams = (%d, %d, %v), want (%d, %d, %v)",
					page, limit, ok, tt.wantPage, tt.wantLimit, tt.wantOK)
			}
		})
	}
}
