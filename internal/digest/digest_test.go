package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestCompute_Empty(t *testing.T) {
	d, err := Compute(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if d != Empty {
		t.Errorf("empty digest: got %q, want %q", d, Empty)
	}
}

func TestCompute_KnownValue(t *testing.T) {
	d, err := Compute(strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if string(d) != want {
		t.Errorf("got %q, want %q", d, want)
	}
}

func TestComputeBlocks_IndependentOfBlockSize(t *testing.T) {
	data := bytes.Repeat([]byte("hashverdict-"), 5000)
	sum := sha256.Sum256(data)
	want := Digest(hex.EncodeToString(sum[:]))

	for _, size := range []int{1, 7, 64, 4096, 65536, 0, -3} {
		got, err := ComputeBlocks(bytes.NewReader(data), size)
		if err != nil {
			t.Fatalf("block size %d: %v", size, err)
		}
		if got != want {
			t.Errorf("block size %d: got %q, want %q", size, got, want)
		}
	}
}

func TestCompute_ShortReads(t *testing.T) {
	data := []byte(strings.Repeat("x", 10000))
	a, err := Compute(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compute(iotest.OneByteReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("one-byte reader digest %q differs from %q", b, a)
	}
}

func TestCompute_ReadFailure(t *testing.T) {
	cause := errors.New("disk on fire")
	r := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(cause))

	_, err := Compute(r)
	if !errors.Is(err, ErrReadFailure) {
		t.Fatalf("expected ErrReadFailure, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected underlying cause to be wrapped, got %v", err)
	}
}

func TestValid(t *testing.T) {
	cases := map[string]bool{
		string(Empty):                      true,
		strings.ToUpper(string(Empty)):     false,
		"abc":                              false,
		"44d88612fea8a8f36de82e1278abb02f": false,
		strings.Repeat("g", 64):            false,
		strings.Repeat("0", 64):            true,
	}
	for in, want := range cases {
		if got := Valid(in); got != want {
			t.Errorf("Valid(%q) = %v, want %v", in, got, want)
		}
	}
}
