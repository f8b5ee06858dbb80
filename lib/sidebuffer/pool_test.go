package sidebuffer

import "testing"

func TestNewPoolStartsEmpty(t *testing.T) {
	p := New(4, 16)
	if got := p.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}
	if got := p.Length(); got != 16 {
		t.Fatalf("Length() = %d, want 16", got)
	}
	if p.Lookup(0, 0, 1, make([]byte, 1)) {
		t.Fatal("Lookup on empty pool returned true")
	}
}

func TestAcquireFillLookupRoundTrip(t *testing.T) {
	p := New(2, 8)

	slot, data := p.Acquire()
	copy(data, []byte("abcdefgh"))
	p.Fill(slot, 3, 10, 8)

	dst := make([]byte, 4)
	if !p.Lookup(3, 10, 4, dst) {
		t.Fatal("Lookup did not find freshly filled buffer")
	}
	if string(dst) != "abcd" {
		t.Fatalf("Lookup copied %q, want %q", dst, "abcd")
	}

	dst2 := make([]byte, 4)
	if !p.Lookup(3, 14, 4, dst2) {
		t.Fatal("Lookup did not find tail of buffer")
	}
	if string(dst2) != "efgh" {
		t.Fatalf("Lookup copied %q, want %q", dst2, "efgh")
	}
}

func TestLookupRejectsWrongIndexOrRange(t *testing.T) {
	p := New(2, 8)
	slot, data := p.Acquire()
	copy(data, []byte("abcdefgh"))
	p.Fill(slot, 3, 10, 8)

	cases := []struct {
		name   string
		index  int
		offset int64
		length int
	}{
		{"wrong index", 4, 10, 4},
		{"offset before buffer", 3, 5, 4},
		{"range extends past buffer", 3, 12, 8},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if p.Lookup(c.index, c.offset, c.length, make([]byte, c.length)) {
				t.Fatalf("Lookup unexpectedly hit for %s", c.name)
			}
		})
	}
}

func TestLookupPrefersGreatestCoveringLength(t *testing.T) {
	p := New(2, 8)

	slotA, dataA := p.Acquire()
	copy(dataA, []byte("short..."))
	p.Fill(slotA, 1, 0, 4) // covers [0,4)

	slotB, dataB := p.Acquire()
	copy(dataB, []byte("longlong"))
	p.Fill(slotB, 1, 0, 8) // covers [0,8)

	dst := make([]byte, 4)
	if !p.Lookup(1, 0, 4, dst) {
		t.Fatal("Lookup found nothing")
	}
	if string(dst) != "long" {
		t.Fatalf("Lookup picked the shorter-covering buffer: got %q", dst)
	}
}

func TestAcquireEvictsLowestPriority(t *testing.T) {
	p := New(2, 4)

	slot0, _ := p.Acquire()
	p.Fill(slot0, 0, 0, 4)
	slot1, _ := p.Acquire()
	p.Fill(slot1, 1, 0, 4)

	// Bump slot1's priority by looking it up, so slot0 is now the
	// oldest and should be the next Acquire's victim.
	p.Lookup(1, 0, 1, make([]byte, 1))

	evicted, _ := p.Acquire()
	if evicted != slot0 {
		t.Fatalf("Acquire evicted slot %d, want %d", evicted, slot0)
	}
}

func TestBufferAtExposesReservedSlotsDirectly(t *testing.T) {
	p := New(4, 16)
	buf := p.BufferAt(BootstrapScratchBuffer)
	if len(buf) != 16 {
		t.Fatalf("BufferAt returned buffer of length %d, want 16", len(buf))
	}
}
