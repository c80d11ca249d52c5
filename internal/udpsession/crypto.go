// Package udpsession implements the UDP acceleration engine: the
// datagram socket, the ChaCha20-Poly1305 packet crypto with nonce
// chaining, the readiness state machine, and the keep-alive workers.
package udpsession

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/raa-org/sevpn/internal/bytesx"
	"github.com/raa-org/sevpn/internal/runtimex"
)

const (
	// nonceSize is the ChaCha20-Poly1305 nonce size.
	nonceSize = chacha20poly1305.NonceSize

	// tagSize is the Poly1305 tag size.
	tagSize = chacha20poly1305.Overhead

	// innerHeaderSize is the fixed part of the decrypted packet:
	// cookie(4) + myTick(8) + yourTick(8) + size(2) + flag(1).
	innerHeaderSize = 4 + 8 + 8 + 2 + 1

	// minWireSize is the smallest valid packet on the wire.
	minWireSize = nonceSize + innerHeaderSize + tagSize

	// keySize is the AEAD key size; only the first keySize bytes of
	// the 128-byte V2 key blocks are used.
	keySize = chacha20poly1305.KeySize
)

var (
	// ErrShortKey means a V2 key block is shorter than the AEAD key.
	ErrShortKey = errors.New("udpsession: key too short")

	// ErrShortPacket means a wire packet is below the minimum size.
	ErrShortPacket = errors.New("udpsession: packet too short")

	// ErrDecrypt means tag verification failed.
	ErrDecrypt = errors.New("udpsession: decrypt error")

	// ErrBadCookie means the inner cookie does not match ours.
	ErrBadCookie = errors.New("udpsession: cookie mismatch")
)

// sealer encrypts outgoing packets, evolving the nonce after each
// seal: the next nonce is the first 12 bytes of the produced
// ciphertext when long enough, otherwise the current nonce
// incremented as a 96-bit big-endian counter. The receiver reads the
// nonce from the wire prefix, so only the sender needs the rule.
type sealer struct {
	aead  cipher.AEAD
	nonce [nonceSize]byte
}

// newSealer creates a sealer keyed with the first 32 bytes of key.
func newSealer(key []byte) (*sealer, error) {
	if len(key) < keySize {
		return nil, ErrShortKey
	}
	aead, err := chacha20poly1305.New(key[:keySize])
	if err != nil {
		return nil, err
	}
	s := &sealer{aead: aead}
	nonce, err := bytesx.GenRandomBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	copy(s.nonce[:], nonce)
	return s, nil
}

// Seal produces nonce || ciphertext || tag and evolves the nonce.
func (s *sealer) Seal(plaintext []byte) []byte {
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+tagSize)
	copy(out, s.nonce[:])
	out = s.aead.Seal(out, s.nonce[:], plaintext, nil)

	ciphertext := out[nonceSize:]
	if len(ciphertext) >= nonceSize {
		copy(s.nonce[:], ciphertext[:nonceSize])
	} else {
		incrementNonce(&s.nonce)
	}
	return out
}

// incrementNonce bumps the nonce as a 96-bit big-endian counter.
func incrementNonce(nonce *[nonceSize]byte) {
	for i := nonceSize - 1; i >= 0; i-- {
		nonce[i]++
		if nonce[i] != 0 {
			return
		}
	}
}

// opener decrypts incoming packets using the wire nonce prefix.
type opener struct {
	aead cipher.AEAD
}

// newOpener creates an opener keyed with the first 32 bytes of key.
func newOpener(key []byte) (*opener, error) {
	if len(key) < keySize {
		return nil, ErrShortKey
	}
	aead, err := chacha20poly1305.New(key[:keySize])
	if err != nil {
		return nil, err
	}
	return &opener{aead: aead}, nil
}

// Open verifies and decrypts a wire packet.
func (o *opener) Open(wire []byte) ([]byte, error) {
	if len(wire) < minWireSize {
		return nil, ErrShortPacket
	}
	plaintext, err := o.aead.Open(nil, wire[:nonceSize], wire[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecrypt, err)
	}
	return plaintext, nil
}

// innerPacket is the decrypted packet layout.
type innerPacket struct {
	cookie   uint32
	myTick   uint64
	yourTick uint64
	flag     byte
	payload  []byte
}

// marshalInner serializes the inner packet, big endian.
func marshalInner(cookie uint32, myTick, yourTick uint64, flag byte, payload []byte) []byte {
	runtimex.Assert(len(payload) <= 0xFFFF, "udpsession: payload too large")
	out := make([]byte, innerHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], cookie)
	binary.BigEndian.PutUint64(out[4:12], myTick)
	binary.BigEndian.PutUint64(out[12:20], yourTick)
	binary.BigEndian.PutUint16(out[20:22], uint16(len(payload)))
	out[22] = flag
	copy(out[innerHeaderSize:], payload)
	return out
}

// parseInner deserializes the inner packet. Trailing bytes beyond the
// declared payload size are padding and are ignored.
func parseInner(plaintext []byte) (*innerPacket, error) {
	if len(plaintext) < innerHeaderSize {
		return nil, ErrShortPacket
	}
	size := int(binary.BigEndian.Uint16(plaintext[20:22]))
	if innerHeaderSize+size > len(plaintext) {
		return nil, fmt.Errorf("%w: declared payload %d exceeds packet", ErrShortPacket, size)
	}
	return &innerPacket{
		cookie:   binary.BigEndian.Uint32(plaintext[0:4]),
		myTick:   binary.BigEndian.Uint64(plaintext[4:12]),
		yourTick: binary.BigEndian.Uint64(plaintext[12:20]),
		flag:     plaintext[22],
		payload:  plaintext[innerHeaderSize : innerHeaderSize+size],
	}, nil
}
