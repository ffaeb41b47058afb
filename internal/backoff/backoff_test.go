package backoff

import (
	"math"
	"testing"
	"time"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestSequence(t *testing.T) {
	b := New(ms(100), ms(1000))
	want := []time.Duration{ms(100), ms(200), ms(400), ms(800), ms(1000), ms(1000), ms(1000)}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("Next() #%d = %v, want %v", i, got, w)
		}
	}
}

func TestResetRestartsAtMin(t *testing.T) {
	b := New(ms(100), ms(1000))
	for range 4 {
		b.Next()
	}
	b.Reset()
	if got := b.Next(); got != ms(100) {
		t.Fatalf("after Reset, Next() = %v, want 100ms", got)
	}
	if got := b.Next(); got != ms(200) {
		t.Fatalf("second Next() after Reset = %v, want 200ms", got)
	}
}

func TestZeroBoundsRetryImmediately(t *testing.T) {
	b := New(0, 0)
	for i := range 3 {
		if got := b.Next(); got != 0 {
			t.Fatalf("Next() #%d = %v, want 0", i, got)
		}
	}
}

func TestZeroMinStaysZero(t *testing.T) {
	// Doubling zero never leaves zero; the floor is min.
	b := New(0, ms(1000))
	for range 3 {
		if got := b.Next(); got != 0 {
			t.Fatalf("Next() = %v, want 0", got)
		}
	}
}

func TestEqualBounds(t *testing.T) {
	b := New(ms(250), ms(250))
	for range 3 {
		if got := b.Next(); got != ms(250) {
			t.Fatalf("Next() = %v, want 250ms", got)
		}
	}
}

func TestConfigureReplacesBounds(t *testing.T) {
	b := New(ms(100), ms(1000))
	b.Next()
	b.Next()

	b.Configure(ms(10), ms(30))
	want := []time.Duration{ms(10), ms(20), ms(30), ms(30)}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("Next() #%d = %v, want %v", i, got, w)
		}
	}
}

func TestInvertedBoundsClampToMin(t *testing.T) {
	b := New(ms(500), ms(100))
	if got := b.Next(); got != ms(500) {
		t.Fatalf("Next() = %v, want 500ms", got)
	}
	if got := b.Next(); got != ms(500) {
		t.Fatalf("Next() = %v, want 500ms", got)
	}
}

func TestNoOverflowNearMax(t *testing.T) {
	huge := time.Duration(math.MaxInt64)
	b := New(huge/2+1, huge)
	b.Next()
	if got := b.Next(); got != huge {
		t.Fatalf("Next() = %v, want %v", got, huge)
	}
}
