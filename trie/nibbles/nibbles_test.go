package nibbles

import "testing"

func TestFromKeyBytesTerminated(t *testing.T) {
	n := FromKeyBytes([]byte{0x01, 0x02})
	want := Nibbles{0, 1, 0, 2, terminatorNibble}
	if !n.Equal(want) {
		t.Fatalf("got %v, want %v", n, want)
	}
	if !n.HasTerm() {
		t.Fatalf("expected terminator")
	}
}

func TestPrefixLen(t *testing.T) {
	a := Nibbles{1, 2, 3, 4, terminatorNibble}
	b := Nibbles{1, 2, 9, 9}
	if got := a.PrefixLen(b); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}

func TestCompactRoundTrip(t *testing.T) {
	cases := []Nibbles{
		{1, 2, 3, 4, terminatorNibble},
		{1, 2, 3, terminatorNibble},
		{1, 2, 3, 4},
		{1, 2, 3},
		{},
	}
	for _, c := range cases {
		compact := ToCompact(c)
		got, term := FromCompact(compact)
		if !got.Equal(c) {
			t.Fatalf("round trip mismatch: got %v want %v", got, c)
		}
		if term != c.HasTerm() {
			t.Fatalf("terminator mismatch for %v", c)
		}
	}
}

func TestAt(t *testing.T) {
	key := []byte{0xab, 0xcd}
	want := []byte{0xa, 0xb, 0xc, 0xd}
	for i, w := range want {
		if got := At(key, i); got != w {
			t.Fatalf("At(%d) = %d, want %d", i, got, w)
		}
	}
}
