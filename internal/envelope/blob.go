// Package envelope implements the binary container for encrypted content and
// the per-recipient wrapped-key envelopes used when sharing it.
//
// Blob layout, all lengths big-endian uint32 unless noted:
//
//	[keyLen][key ciphertext][hashLen][key hash][algo:1][ivLen:1][iv][payloadLen][payload]
package envelope

import (
	"encoding/binary"
	"fmt"
)

// AlgoAESGCM256 is the only payload algorithm currently produced.
const AlgoAESGCM256 byte = 1

// Blob is the parsed form of an encrypted content container.
type Blob struct {
	KeyCiphertext []byte // network-encrypted key payload
	KeyHash       []byte // digest identifying the key payload on the network
	Algo          byte
	IV            []byte
	Payload       []byte // symmetric ciphertext of the media bytes
}

// Encode renders the blob into its wire form.
func (b *Blob) Encode() []byte {
	size := 4 + len(b.KeyCiphertext) + 4 + len(b.KeyHash) + 1 + 1 + len(b.IV) + 4 + len(b.Payload)
	out := make([]byte, 0, size)

	out = binary.BigEndian.AppendUint32(out, uint32(len(b.KeyCiphertext)))
	out = append(out, b.KeyCiphertext...)

	out = binary.BigEndian.AppendUint32(out, uint32(len(b.KeyHash)))
	out = append(out, b.KeyHash...)

	out = append(out, b.Algo, byte(len(b.IV)))
	out = append(out, b.IV...)

	out = binary.BigEndian.AppendUint32(out, uint32(len(b.Payload)))
	out = append(out, b.Payload...)

	return out
}

// Parse decodes a blob from its wire form, validating every length prefix
// against the remaining input.
func Parse(raw []byte) (*Blob, error) {
	r := reader{buf: raw}

	keyCiphertext, err := r.lengthPrefixed("key ciphertext")
	if err != nil {
		return nil, err
	}
	keyHash, err := r.lengthPrefixed("key hash")
	if err != nil {
		return nil, err
	}
	algo, err := r.byte("algo")
	if err != nil {
		return nil, err
	}
	ivLen, err := r.byte("iv length")
	if err != nil {
		return nil, err
	}
	iv, err := r.take(int(ivLen), "iv")
	if err != nil {
		return nil, err
	}
	payload, err := r.lengthPrefixed("payload")
	if err != nil {
		return nil, err
	}
	if len(r.buf) != r.off {
		return nil, fmt.Errorf("trailing garbage after payload: %d bytes", len(r.buf)-r.off)
	}

	return &Blob{
		KeyCiphertext: keyCiphertext,
		KeyHash:       keyHash,
		Algo:          algo,
		IV:            iv,
		Payload:       payload,
	}, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int, field string) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, fmt.Errorf("truncated blob reading %s: need %d bytes, have %d", field, n, len(r.buf)-r.off)
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) byte(field string) (byte, error) {
	b, err := r.take(1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) lengthPrefixed(field string) ([]byte, error) {
	lenBytes, err := r.take(4, field+" length")
	if err != nil {
		return nil, err
	}
	return r.take(int(binary.BigEndian.Uint32(lenBytes)), field)
}
