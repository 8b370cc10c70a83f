package entropy

import "testing"

func TestStreamReproducible(t *testing.T) {
	a := NewStream(42)
	b := NewStream(42)
	for i := 0; i < 100; i++ {
		if x, y := a.Float64(), b.Float64(); x != y {
			t.Fatalf("draw %d: %v != %v", i, x, y)
		}
	}
}

func TestStreamZeroSeed(t *testing.T) {
	s := NewStream(0)
	if s.Seed() == 0 {
		t.Error("zero seed was not replaced")
	}
}

func TestUniformRange(t *testing.T) {
	s := NewStream(7)
	for i := 0; i < 1000; i++ {
		v := s.Uniform(-0.1, 0.1)
		if v < -0.1 || v >= 0.1 {
			t.Fatalf("Uniform = %v, want in [-0.1, 0.1)", v)
		}
	}
}

func TestIntnRange(t *testing.T) {
	s := NewStream(7)
	for i := 0; i < 1000; i++ {
		if v := s.Intn(5); v < 0 || v >= 5 {
			t.Fatalf("Intn(5) = %d", v)
		}
	}
}
