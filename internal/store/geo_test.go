package store

import (
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	// Two points in Bogotá roughly 12 km apart.
	center := Point{Lng: -74.0721, Lat: 4.7110}
	monserrate := Point{Lng: -74.0565, Lat: 4.6057}

	d := DistanceMeters(center, monserrate)
	if d < 11000 || d > 13000 {
		t.Fatalf("unexpected distance: %.0f m", d)
	}

	if got := DistanceMeters(center, center); got != 0 {
		t.Fatalf("self distance = %v, want 0", got)
	}
	if a, b := DistanceMeters(center, monserrate), DistanceMeters(monserrate, center); math.Abs(a-b) > 1e-6 {
		t.Fatalf("distance not symmetric: %v vs %v", a, b)
	}
}

func TestOffsetMeters(t *testing.T) {
	p := Point{Lng: -74.0721, Lat: 4.7110}
	q := OffsetMeters(p, 100, 0)
	if d := DistanceMeters(p, q); math.Abs(d-100) > 1 {
		t.Fatalf("east offset distance = %.2f m, want ~100", d)
	}
	q = OffsetMeters(p, 0, -250)
	if d := DistanceMeters(p, q); math.Abs(d-250) > 1 {
		t.Fatalf("north offset distance = %.2f m, want ~250", d)
	}
}

func TestBoundingBoxContainsRadius(t *testing.T) {
	center := Point{Lng: -74.0721, Lat: 4.7110}
	const radius = 5000.0
	minLng, maxLng, minLat, maxLat := BoundingBox(center, radius)

	for _, bearing := range []float64{0, 45, 90, 135, 180, 225, 270, 315} {
		rad := bearing * math.Pi / 180
		p := OffsetMeters(center, radius*math.Sin(rad), radius*math.Cos(rad))
		if p.Lng < minLng || p.Lng > maxLng || p.Lat < minLat || p.Lat > maxLat {
			t.Fatalf("bearing %v: point %+v outside box [%v,%v]x[%v,%v]",
				bearing, p, minLng, maxLng, minLat, maxLat)
		}
	}
}

func TestPointValid(t *testing.T) {
	cases := []struct {
		p    Point
		want bool
	}{
		{Point{Lng: 0, Lat: 0}, true},
		{Point{Lng: -180, Lat: 90}, true},
		{Point{Lng: 200, Lat: 4.71}, false},
		{Point{Lng: -74.07, Lat: -95}, false},
	}
	for _, c := range cases {
		if got := c.p.Valid(); got != c.want {
			t.Errorf("Valid(%+v) = %v, want %v", c.p, got, c.want)
		}
	}
}
