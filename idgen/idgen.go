// Package idgen generates opaque, collision-resistant ids for executor
// value handles and remote value references.
//
// Grounded on the teacher's secret-display-id factory (a keyed BLAKE2s
// PRF producing short base58 ids): every executor value needs an id
// that is (a) stable for the lifetime of the handle, (b) opaque enough
// that two executors' ids never collide when embedded into each other,
// and (c) cheap to generate under concurrent create-value calls. A
// per-factory monotonic counter folded into the PRF input gives
// uniqueness without a mutex-guarded map.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/blake2s"
)

// RandomKey returns a fresh 32-byte key suitable for New, sourced from
// crypto/rand. Each executor instance should mint its own key so that ids
// from distinct executors are never mistakenly accepted as equal.
func RandomKey() [32]byte {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		panic(fmt.Sprintf("idgen: reading random key: %v", err))
	}
	return key
}

// Factory mints opaque ids scoped to one executor instance.
type Factory struct {
	key     [32]byte
	prefix  string
	counter atomic.Uint64
}

// New creates a Factory. prefix identifies the owning executor in
// generated ids (e.g. "inline", "cf", "remote") purely for readability in
// logs and error messages; it carries no security meaning. key must be
// 32 bytes; RandomKey is the usual way to obtain one.
func New(prefix string, key [32]byte) *Factory {
	return &Factory{key: key, prefix: prefix}
}

// Next mints the next id for this factory.
func (f *Factory) Next() string {
	seq := f.counter.Add(1)

	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)

	h, err := blake2s.New128(f.key[:])
	if err != nil {
		// blake2s.New128 only fails on a bad key length, which New's
		// [32]byte signature makes unreachable.
		panic(fmt.Sprintf("idgen: blake2s init: %v", err))
	}
	h.Write([]byte(f.prefix))
	h.Write(seqBytes[:])
	digest := h.Sum(nil)

	return f.prefix + ":" + encodeBase58(digest[:8])
}

// base58 alphabet (Bitcoin-style, no 0/O/I/l ambiguity).
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// encodeBase58 encodes an 8-byte slice to a base58 string.
func encodeBase58(data []byte) string {
	if len(data) != 8 {
		panic("idgen: encodeBase58 requires exactly 8 bytes")
	}

	var num [8]byte
	copy(num[:], data)

	var result []byte
	for i := 0; i < 8; i++ {
		if num[i] == 0 && i == 7 {
			continue
		}
		var remainder byte
		for j := 0; j < 8; j++ {
			temp := int(num[j]) + int(remainder)*256
			num[j] = byte(temp / 58)
			remainder = byte(temp % 58)
		}
		result = append([]byte{base58Alphabet[remainder]}, result...)
	}

	for i := 0; i < len(data); i++ {
		if data[i] != 0 {
			break
		}
		result = append([]byte{'1'}, result...)
	}

	return string(result)
}
