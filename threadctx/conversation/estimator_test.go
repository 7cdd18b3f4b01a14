package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCharEstimator(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 200), 50},
		{"héllo", 2}, // counts bytes, not runes
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CharEstimator(tt.in), "input %q", tt.in)
	}
}

func TestCharEstimator_Monotonic(t *testing.T) {
	prev := 0
	for n := 0; n < 512; n++ {
		got := CharEstimator(strings.Repeat("z", n))
		assert.GreaterOrEqual(t, got, prev)
		if n > 0 {
			assert.GreaterOrEqual(t, got, 1)
		}
		prev = got
	}
}

func BenchmarkCharEstimator(b *testing.B) {
	s := strings.Repeat("lorem ipsum ", 200)
	for i := 0; i < b.N; i++ {
		CharEstimator(s)
	}
}
