package http_test

import (
	"testing"

	xhttp "Guardrail/pkg/http"

	"github.com/stretchr/testify/assert"
)

func TestPaginate(t *testing.T) {
	rows := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name          string
		offset, limit int
		want          []int
		wantOffset    int
		wantLimit     int
	}{
		{"whole listing", 0, 0, []int{1, 2, 3, 4, 5}, 0, 0},
		{"window", 1, 2, []int{2, 3}, 1, 2},
		{"limit past end", 3, 10, []int{4, 5}, 3, 10},
		{"offset past end", 9, 2, []int{}, 5, 2},
		{"negative offset", -3, 1, []int{1}, 0, 1},
		{"negative limit", 2, -1, []int{3, 4, 5}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := xhttp.Paginate(rows, tt.offset, tt.limit)
			assert.Equal(t, tt.want, p.Rows)
			assert.Equal(t, int64(5), p.Total)
			assert.Equal(t, tt.wantOffset, p.Offset)
			assert.Equal(t, tt.wantLimit, p.Limit)
		})
	}
}

func TestPaginate_EmptyRowsEncodeAsArray(t *testing.T) {
	p := xhttp.Paginate[string](nil, 0, 10)
	assert.NotNil(t, p.Rows)
	assert.Empty(t, p.Rows)
	assert.Zero(t, p.Total)
}

func TestTail(t *testing.T) {
	rows := []string{"kill", "release", "kill"}

	p := xhttp.Tail(rows, 2)
	assert.Equal(t, []string{"release", "kill"}, p.Rows)
	assert.Equal(t, 1, p.Offset)
	assert.Equal(t, int64(3), p.Total)

	assert.Equal(t, rows, xhttp.Tail(rows, 0).Rows)
	assert.Equal(t, rows, xhttp.Tail(rows, 7).Rows)
}
