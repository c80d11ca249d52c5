package udpsession

import (
	"bytes"
	"testing"
)

func newTestSealerOpener(t *testing.T) (*sealer, *opener) {
	t.Helper()
	key := bytes.Repeat([]byte{0xCD}, clientKeyV2Size)
	s, err := newSealer(key)
	if err != nil {
		t.Fatal(err)
	}
	o, err := newOpener(key)
	if err != nil {
		t.Fatal(err)
	}
	return s, o
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, o := newTestSealerOpener(t)

	plaintext := marshalInner(0xAA, 1000, 900, 0, []byte("ethernet frame bytes"))
	wire := s.Seal(plaintext)

	if len(wire) != nonceSize+len(plaintext)+tagSize {
		t.Fatalf("wire length = %d", len(wire))
	}
	got, err := o.Open(wire)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("plaintext mismatch")
	}
}

// The second packet's nonce must be the first ciphertext's 12-byte
// prefix (deterministic chaining).
func TestNonceChaining(t *testing.T) {
	s, _ := newTestSealerOpener(t)

	plaintext := marshalInner(0xAA, 1, 0, 0, nil)
	first := s.Seal(plaintext)
	second := s.Seal(plaintext)

	firstCiphertextPrefix := first[nonceSize : nonceSize+nonceSize]
	if !bytes.Equal(second[:nonceSize], firstCiphertextPrefix) {
		t.Fatalf("second nonce %x != first ciphertext prefix %x",
			second[:nonceSize], firstCiphertextPrefix)
	}
}

// No nonce reuse across a long run of seals.
func TestNonceUniqueness(t *testing.T) {
	s, _ := newTestSealerOpener(t)
	seen := make(map[[nonceSize]byte]bool)
	plaintext := marshalInner(0xAA, 1, 0, 0, nil)
	for i := 0; i < 5000; i++ {
		wire := s.Seal(plaintext)
		var nonce [nonceSize]byte
		copy(nonce[:], wire[:nonceSize])
		if seen[nonce] {
			t.Fatalf("nonce reused at iteration %d", i)
		}
		seen[nonce] = true
	}
}

func TestTamperedPacketFailsTagVerification(t *testing.T) {
	s, o := newTestSealerOpener(t)
	wire := s.Seal(marshalInner(0xAA, 1, 0, 0, []byte("payload")))
	wire[nonceSize] ^= 0x01
	if _, err := o.Open(wire); err == nil {
		t.Fatal("tampered packet must fail verification")
	}
}

func TestIncrementNonceCarry(t *testing.T) {
	var nonce [nonceSize]byte
	for i := range nonce {
		nonce[i] = 0xFF
	}
	incrementNonce(&nonce)
	for i, b := range nonce {
		if b != 0 {
			t.Fatalf("byte %d = %02x after wrap", i, b)
		}
	}

	nonce = [nonceSize]byte{}
	nonce[nonceSize-1] = 0xFF
	incrementNonce(&nonce)
	if nonce[nonceSize-1] != 0 || nonce[nonceSize-2] != 1 {
		t.Fatalf("carry failed: %x", nonce)
	}
}

func TestInnerPacketSizes(t *testing.T) {
	if innerHeaderSize != 23 {
		t.Fatalf("inner header size = %d, want 23", innerHeaderSize)
	}
	if minWireSize != 51 {
		t.Fatalf("minimum wire size = %d, want 51", minWireSize)
	}
}

func TestParseInnerBounds(t *testing.T) {
	if _, err := parseInner(make([]byte, innerHeaderSize-1)); err == nil {
		t.Fatal("short plaintext must fail")
	}
	// declared payload larger than the packet
	raw := marshalInner(1, 2, 3, 0, []byte{9, 9})
	raw = raw[:len(raw)-1]
	if _, err := parseInner(raw); err == nil {
		t.Fatal("truncated payload must fail")
	}
	// trailing padding is tolerated
	padded := append(marshalInner(1, 2, 3, 0, []byte{9}), 0, 0, 0)
	inner, err := parseInner(padded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(inner.payload, []byte{9}) {
		t.Fatalf("payload = %v", inner.payload)
	}
}

func TestInnerRoundTrip(t *testing.T) {
	raw := marshalInner(0xBB, 123456, 654321, 1, []byte("data"))
	inner, err := parseInner(raw)
	if err != nil {
		t.Fatal(err)
	}
	if inner.cookie != 0xBB || inner.myTick != 123456 || inner.yourTick != 654321 {
		t.Fatalf("header mismatch: %+v", inner)
	}
	if inner.flag != 1 || !bytes.Equal(inner.payload, []byte("data")) {
		t.Fatalf("body mismatch: %+v", inner)
	}
}

func TestShortKeyRejected(t *testing.T) {
	if _, err := newSealer(make([]byte, 16)); err == nil {
		t.Fatal("short key must fail")
	}
	if _, err := newOpener(make([]byte, 31)); err == nil {
		t.Fatal("short key must fail")
	}
}
