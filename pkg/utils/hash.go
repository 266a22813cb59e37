package utils

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Blake2bHex hashes the concatenation of parts with blake2b-256.
func Blake2bHex(parts ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Blake2b224Hex is used for pool identifiers.
func Blake2b224Hex(data []byte) string {
	h, _ := blake2b.New(28, nil)
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Uint64Bytes returns the big endian encoding of v.
func Uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
