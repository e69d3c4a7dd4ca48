package encodedtrie

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethcorego/execution-core/trie/rlpnode"
)

func TestEmptyTrieHash(t *testing.T) {
	tr := NewEmpty()
	h, err := tr.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h != rlpnode.EmptyRootHash {
		t.Fatalf("empty trie hash mismatch: got %x want %x", h, rlpnode.EmptyRootHash)
	}
}

// S1. Leaf overwrite.
func TestLeafOverwrite(t *testing.T) {
	tr := NewEmpty()
	key := []byte{0x01, 0x02, 0x03, 0x04}
	if err := tr.Insert(key, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(key, []byte("b")); err != nil {
		t.Fatal(err)
	}
	got, err := tr.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("b")) {
		t.Fatalf("got %q want %q", got, "b")
	}

	reference := NewEmpty()
	if err := reference.Insert(key, []byte("b")); err != nil {
		t.Fatal(err)
	}
	h1, err := tr.Hash()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := reference.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash mismatch between overwritten and freshly-built single-leaf trie")
	}
}

// S2. Branch split.
func TestBranchSplit(t *testing.T) {
	tr := NewEmpty()
	if err := tr.Insert([]byte{0x01, 0x00}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert([]byte{0x02, 0x00}, []byte("y")); err != nil {
		t.Fatal(err)
	}

	root := &tr.nodes[tr.rootIndex]
	if root.kind != KindExtension {
		t.Fatalf("expected root Extension, got kind %d", root.kind)
	}
	if len(root.prefix) != 1 || root.prefix[0] != 0 {
		t.Fatalf("expected extension prefix [0], got %v", root.prefix)
	}
	branchIdx, err := tr.reveal(&root.child)
	if err != nil {
		t.Fatal(err)
	}
	branch := tr.nodes[branchIdx]
	if branch.kind != KindBranch {
		t.Fatalf("expected Branch under extension, got kind %d", branch.kind)
	}
	if branch.children[1].kind == slotNone || branch.children[2].kind == slotNone {
		t.Fatalf("expected children at nibbles 1 and 2")
	}

	gotX, _ := tr.Get([]byte{0x01, 0x00})
	gotY, _ := tr.Get([]byte{0x02, 0x00})
	if !bytes.Equal(gotX, []byte("x")) || !bytes.Equal(gotY, []byte("y")) {
		t.Fatalf("got x=%q y=%q", gotX, gotY)
	}
}

func TestAuthenticateMatchesHashOnInsertedTrie(t *testing.T) {
	tr := NewEmpty()
	for i := 0; i < 20; i++ {
		key := []byte{byte(i), byte(i * 7), byte(i * 13)}
		if err := tr.Insert(key, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	root, err := tr.Hash()
	if err != nil {
		t.Fatal(err)
	}
	auth, err := tr.Authenticate()
	if err != nil {
		t.Fatal(err)
	}
	if root != auth {
		t.Fatalf("hash/authenticate mismatch: %x vs %x", root, auth)
	}
}

func TestHashIdempotent(t *testing.T) {
	tr := NewEmpty()
	tr.Insert([]byte{0xaa}, []byte("v1"))
	tr.Insert([]byte{0xbb}, []byte("v2"))
	h1, err := tr.Hash()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := tr.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash not idempotent: %x vs %x", h1, h2)
	}
}

// S3 (scaled down). Round-trip random insert/remove vs a reference map.
func TestRoundTripRandom(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	tr := NewEmpty()
	keys := make([][]byte, 0, 200)
	values := map[string][]byte{}
	for i := 0; i < 200; i++ {
		key := make([]byte, 32)
		rnd.Read(key)
		value := make([]byte, 1+rnd.Intn(32))
		rnd.Read(value)
		if err := tr.Insert(key, value); err != nil {
			t.Fatal(err)
		}
		keys = append(keys, key)
		values[string(key)] = value
	}
	for _, k := range keys {
		got, err := tr.Get(k)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, values[string(k)]) {
			t.Fatalf("get mismatch for key %x", k)
		}
	}

	rnd.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for _, k := range keys {
		if err := tr.Remove(k); err != nil {
			t.Fatal(err)
		}
		got, err := tr.Get(k)
		if err != nil {
			t.Fatal(err)
		}
		if got != nil {
			t.Fatalf("expected key %x removed, still got %q", k, got)
		}
	}
	if !tr.IsEmpty() {
		t.Fatalf("expected trie empty after removing every key")
	}
	h, err := tr.Hash()
	if err != nil {
		t.Fatal(err)
	}
	empty := NewEmpty()
	emptyHash, _ := empty.Hash()
	if h != emptyHash {
		t.Fatalf("expected empty-trie hash after full removal")
	}
}

// TestLoadFromRLPAuthenticatesFullWitness builds a trie, re-loads it as
// a multi-node witness (root plus every descendant encoding), and checks
// that (a) an honest witness authenticates to the same root Hash()
// returns and (b) tampering with a materialised child's live fields
// after loading is caught by Authenticate via errAuthenticateRef.
func TestLoadFromRLPAuthenticatesFullWitness(t *testing.T) {
	tr := buildDenseTrie(t)
	root, err := tr.Hash()
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFromRLP(collectWitnessEncodings(tr))
	if err != nil {
		t.Fatal(err)
	}
	auth, err := loaded.Authenticate()
	if err != nil {
		t.Fatal(err)
	}
	if auth != root {
		t.Fatalf("authenticate mismatch on honest witness: got %x want %x", auth, root)
	}

	if !tamperOneLinkedChild(loaded) {
		t.Fatalf("expected at least one witness-linked child to tamper with")
	}
	if _, err := loaded.Authenticate(); err != errAuthenticateRef {
		t.Fatalf("expected errAuthenticateRef after tampering with a materialised child, got %v", err)
	}
}

// TestLoadAndAuthenticateRejectsWrongRoot builds an honest witness and
// checks LoadAndAuthenticate rejects it against an unrelated root hash.
func TestLoadAndAuthenticateRejectsWrongRoot(t *testing.T) {
	tr := buildDenseTrie(t)
	encodings := collectWitnessEncodings(tr)

	var wrongRoot common.Hash
	wrongRoot[0] = 0xff
	if _, err := LoadAndAuthenticate(encodings, wrongRoot); err != errRootMismatch {
		t.Fatalf("expected errRootMismatch, got %v", err)
	}

	root, err := tr.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAndAuthenticate(encodings, root); err != nil {
		t.Fatalf("expected honest witness to authenticate against its own root, got %v", err)
	}
}

func buildDenseTrie(t *testing.T) *Trie {
	t.Helper()
	rnd := rand.New(rand.NewSource(7))
	tr := NewEmpty()
	for i := 0; i < 64; i++ {
		key := make([]byte, 32)
		rnd.Read(key)
		value := make([]byte, 40)
		rnd.Read(value)
		if err := tr.Insert(key, value); err != nil {
			t.Fatal(err)
		}
	}
	return tr
}

// collectWitnessEncodings reads back every cached node encoding Hash()
// populated along the way, root first, as LoadFromRLP expects.
func collectWitnessEncodings(tr *Trie) [][]byte {
	out := make([][]byte, 0, len(tr.nodes))
	out = append(out, append([]byte{}, tr.cache[tr.rootIndex].enc...))
	for i, c := range tr.cache {
		if i == tr.rootIndex || c == nil {
			continue
		}
		out = append(out, append([]byte{}, c.enc...))
	}
	return out
}

// tamperOneLinkedChild mutates the live fields of the first witness-
// materialised child it finds (one with a claimedRef to check against),
// invalidating its cache entry so Authenticate's forced recompute sees
// the tampered fields.
func tamperOneLinkedChild(t *Trie) bool {
	for i := range t.nodes {
		e := &t.nodes[i]
		var slots []*childSlot
		switch e.kind {
		case KindExtension:
			slots = []*childSlot{&e.child}
		case KindBranch:
			for j := range e.children {
				slots = append(slots, &e.children[j])
			}
		}
		for _, slot := range slots {
			if slot.kind != slotPresent || slot.claimedRef == nil {
				continue
			}
			tamperEntry(&t.nodes[slot.index])
			t.cache[slot.index] = nil
			return true
		}
	}
	return false
}

func tamperEntry(e *entry) {
	switch e.kind {
	case KindLeaf:
		e.value = append(append([]byte{}, e.value...), 0xff)
	case KindExtension:
		e.prefix = append(e.prefix.Copy(), 0)
	case KindBranch:
		e.branchValue = append(append([]byte{}, e.branchValue...), 0xff)
	}
}

func TestGetUnrelatedKeyReturnsNil(t *testing.T) {
	tr := NewEmpty()
	tr.Insert([]byte{0x01, 0x02}, []byte("a"))
	got, err := tr.Get([]byte{0x03, 0x04})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %q", got)
	}
}
