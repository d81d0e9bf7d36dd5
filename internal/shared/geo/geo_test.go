package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestDistanceMetersSamePoint(t *testing.T) {
	if d := DistanceMeters(52.0, 21.0, 52.0, 21.0); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestDistanceMetersSymmetric(t *testing.T) {
	a := DistanceMeters(52.0, 21.0, 52.001, 21.001)
	b := DistanceMeters(52.001, 21.001, 52.0, 21.0)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("expected symmetric distance, got %v and %v", a, b)
	}
	// 0.001 deg in both axes at 52N is roughly 132 m
	if a < 120 || a > 145 {
		t.Fatalf("unexpected distance: %v", a)
	}
}

func TestDistanceMetersTriangle(t *testing.T) {
	ab := DistanceMeters(52.0, 21.0, 52.001, 21.001)
	bc := DistanceMeters(52.001, 21.001, 52.002, 21.002)
	ac := DistanceMeters(52.0, 21.0, 52.002, 21.002)
	if ac > ab+bc+1e-6 {
		t.Fatalf("triangle inequality violated: %v > %v + %v", ac, ab, bc)
	}
}

func TestDistanceMetersAntipodal(t *testing.T) {
	d := DistanceMeters(0, 0, 0, 180)
	want := math.Pi * earthRadiusM
	if math.Abs(d-want) > 1 {
		t.Fatalf("unexpected antipodal distance: %v", d)
	}
}

func TestBearing(t *testing.T) {
	if b := Bearing(0, 0, 1, 0); math.Abs(b) > 1e-6 {
		t.Fatalf("expected north bearing, got %v", b)
	}
	if b := Bearing(0, 0, 0, 1); math.Abs(b-90) > 1e-6 {
		t.Fatalf("expected east bearing, got %v", b)
	}
	if b := Bearing(0, 0, 0, -1); math.Abs(b-270) > 1e-6 {
		t.Fatalf("expected west bearing, got %v", b)
	}
}

func TestValidCoordinate(t *testing.T) {
	cases := []struct {
		lat, lng float64
		ok       bool
	}{
		{52, 21, true},
		{91, 0, false},
		{0, -181, false},
		{math.NaN(), 0, false},
		{0, math.Inf(1), false},
	}
	for _, c := range cases {
		if got := ValidCoordinate(c.lat, c.lng); got != c.ok {
			t.Fatalf("ValidCoordinate(%v, %v) = %v", c.lat, c.lng, got)
		}
	}
}
