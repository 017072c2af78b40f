package money

import "testing"

func TestBasisPoints(t *testing.T) {
	t.Parallel()
	got := BasisPoints(5)
	want := FromFloat(0.0005)
	if !got.Equal(want) {
		t.Errorf("BasisPoints(5) = %s, want %s", got, want)
	}
}

func TestMaxMin(t *testing.T) {
	t.Parallel()
	a := FromInt(10)
	b := FromInt(20)

	if got := Max(a, b); !got.Equal(b) {
		t.Errorf("Max = %s, want %s", got, b)
	}
	if got := Min(a, b); !got.Equal(a) {
		t.Errorf("Min = %s, want %s", got, a)
	}
}

func TestMaxZero(t *testing.T) {
	t.Parallel()
	if got := MaxZero(FromInt(-5)); !got.Equal(Zero) {
		t.Errorf("MaxZero(-5) = %s, want 0", got)
	}
	if got := MaxZero(FromInt(5)); !got.Equal(FromInt(5)) {
		t.Errorf("MaxZero(5) = %s, want 5", got)
	}
}

func TestRound(t *testing.T) {
	t.Parallel()
	got := Round(FromFloat(1.2345), 2)
	want := FromFloat(1.23)
	if !got.Equal(want) {
		t.Errorf("Round = %s, want %s", got, want)
	}
}
