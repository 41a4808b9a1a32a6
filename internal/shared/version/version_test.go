package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "v1.2.3", Normalize("1.2.3"))
	assert.Equal(t, "v1.2.3", Normalize(" v1.2.3 "))
	assert.Equal(t, "", Normalize(""))
}

func TestAtLeast(t *testing.T) {
	tests := []struct {
		current, minimum string
		want             bool
	}{
		{"1.4.0", "1.3.0", true},
		{"v1.3.0", "1.3.0", true},
		{"1.2.9", "1.3.0", false},
		{"dev", "1.3.0", true},
		{"garbage", "1.3.0", false},
		{"", "1.3.0", false},
		{"1.0.0", "", true},
		{"1.0.0", "not-a-version", true},
	}

	for _, tt := range tests {
		t.Run(tt.current+">="+tt.minimum, func(t *testing.T) {
			assert.Equal(t, tt.want, AtLeast(tt.current, tt.minimum))
		})
	}
}
