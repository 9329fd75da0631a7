package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_Zero(t *testing.T) {
	assert.Equal(t, 0.0, Distance(53.9, 27.56, 53.9, 27.56))
}

func TestDistance_OneDegreeLatitude(t *testing.T) {
	// One degree of latitude is ~111.19 km on a 6371 km sphere.
	d := Distance(53.0, 27.56, 54.0, 27.56)
	assert.InDelta(t, 111_195, d, 10)
}

func TestDistance_LongitudeShrinksWithLatitude(t *testing.T) {
	atEquator := Distance(0, 27.0, 0, 28.0)
	atMinsk := Distance(53.9, 27.0, 53.9, 28.0)
	assert.Greater(t, atEquator, atMinsk)
	assert.InDelta(t, atEquator*0.589, atMinsk, 200) // cos(53.9 deg) ~ 0.589
}

func TestDistance_Symmetric(t *testing.T) {
	a := Distance(53.90, 27.56, 53.91, 27.57)
	b := Distance(53.91, 27.57, 53.90, 27.56)
	assert.InDelta(t, a, b, 1e-9)
}

func TestDistanceR_ScalesWithRadius(t *testing.T) {
	d1 := DistanceR(EarthRadiusM, 53.90, 27.56, 53.91, 27.57)
	d2 := DistanceR(2*EarthRadiusM, 53.90, 27.56, 53.91, 27.57)
	assert.InDelta(t, 2*d1, d2, 1e-6)
}

func TestPoint_DistanceTo(t *testing.T) {
	// Point is (X=lon, Y=lat); must agree with the (lat, lon) form.
	p := Point{X: 27.56, Y: 53.90}
	q := Point{X: 27.57, Y: 53.91}
	assert.InDelta(t, Distance(53.90, 27.56, 53.91, 27.57), p.DistanceTo(q), 1e-9)
}
