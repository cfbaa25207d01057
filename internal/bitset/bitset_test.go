package bitset

import "testing"

func TestBitsetSetClearIsSet(t *testing.T) {
	b := New(100)
	if b.IsSet(5) {
		t.Fatalf("expected bit 5 clear initially")
	}
	b.Set(5)
	if !b.IsSet(5) {
		t.Fatalf("expected bit 5 set")
	}
	b.Clear(5)
	if b.IsSet(5) {
		t.Fatalf("expected bit 5 clear after Clear")
	}
}

func TestBitsetFirstClear(t *testing.T) {
	b := New(48)
	for i := int64(0); i < 48; i++ {
		b.Set(i)
	}
	if _, ok := b.FirstClear(); ok {
		t.Fatalf("expected no clear bits once all 48 are set")
	}
	b.Clear(10)
	off, ok := b.FirstClear()
	if !ok || off != 10 {
		t.Fatalf("FirstClear() = (%d, %v), want (10, true)", off, ok)
	}
}

func TestBitsetCount(t *testing.T) {
	b := New(48)
	for _, i := range []int64{0, 1, 47} {
		b.Set(i)
	}
	if got := b.Count(); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}
}
