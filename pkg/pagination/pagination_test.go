package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		query      string
		wantPage   int
		wantPer    int
		wantOffset int
	}{
		{"", 1, DefaultPerPage, 0},
		{"?page=3&per_page=10", 3, 10, 20},
		{"?page=0&per_page=-5", 1, DefaultPerPage, 0},
		{"?page=abc", 1, DefaultPerPage, 0},
		{"?per_page=1000", 1, MaxPerPage, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := FromRequest(httptest.NewRequest("GET", "/api/v1/orders"+tt.query, nil))
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantPer, p.PerPage)
			assert.Equal(t, tt.wantOffset, p.Offset())
		})
	}
}
