package render

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDPIFor(t *testing.T) {
	r := NewFitzRenderer()
	tests := []struct {
		name   string
		bounds image.Rectangle
		want   float64
	}{
		{"a4 portrait keeps default scale", image.Rect(0, 0, 595, 842), 108},
		{"letter landscape keeps default scale", image.Rect(0, 0, 792, 612), 108},
		{"large drawing is capped", image.Rect(0, 0, 2000, 1000), 72},
		{"empty box falls back to scale", image.Rectangle{}, 108},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, r.dpiFor(tt.bounds), 0.001)
		})
	}
}

func TestDPIFor_LongestSideNeverExceedsCap(t *testing.T) {
	r := NewFitzRenderer()
	for _, side := range []int{100, 1333, 1334, 5000, 14400} {
		dpi := r.dpiFor(image.Rect(0, 0, side/2, side))
		assert.LessOrEqual(t, float64(side)*dpi/pointsPerInch, float64(DefaultMaxDimension)+0.001, "side %d", side)
	}
}

func TestQualityFallsBackToDefault(t *testing.T) {
	assert.Equal(t, DefaultQuality, (&FitzRenderer{}).quality())
	assert.Equal(t, 55, (&FitzRenderer{Quality: 55}).quality())
	assert.Equal(t, DefaultQuality, (&FitzRenderer{Quality: 101}).quality())
}

func TestPageCount_RejectsGarbage(t *testing.T) {
	r := NewFitzRenderer()

	_, err := r.PageCount(context.Background(), nil)
	require.Error(t, err)

	_, err = r.PageCount(context.Background(), []byte("definitely not a pdf"))
	require.Error(t, err)
}
