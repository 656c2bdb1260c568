// Package idgen generates short, uniformly distributed opaque IDs using
// rejection sampling over a cryptographic random byte source, avoiding the
// modulo bias a naive `randomByte % len(alphabet)` would introduce.
package idgen

import (
	"crypto/rand"
)

// DefaultAlphabet is a 64-character URL-safe set.
const DefaultAlphabet = "useandom-26T198340PX75pxJACKVERYMINDBUSHWOLF_GQZbfghjklqvwyzrict"

// DefaultLength yields ~126 bits of entropy with DefaultAlphabet.
const DefaultLength = 21

// Generator produces IDs over a fixed alphabet.
type Generator struct {
	alphabet []byte
	mask     byte
}

// New builds a Generator for the given alphabet. Panics if alphabet is
// empty or longer than 256 characters (a byte can't index further).
func New(alphabet string) *Generator {
	if len(alphabet) == 0 {
		panic("idgen: alphabet must not be empty")
	}
	if len(alphabet) > 256 {
		panic("idgen: alphabet must not exceed 256 characters")
	}
	return &Generator{
		alphabet: []byte(alphabet),
		mask:     nextMask(len(alphabet)),
	}
}

// Default is a ready-to-use Generator over DefaultAlphabet.
var Default = New(DefaultAlphabet)

// nextMask returns the bitmask for the smallest power of two >= n, used to
// reject out-of-range random bytes cheaply instead of computing a modulo.
func nextMask(n int) byte {
	if n <= 1 {
		return 0
	}
	clz := 0
	v := uint(n - 1)
	for b := 7; b >= 0; b-- {
		if v&(1<<uint(b)) != 0 {
			clz = b
			break
		}
	}
	mask := byte(0)
	for i := 0; i <= clz; i++ {
		mask |= 1 << uint(i)
	}
	return mask
}

// Generate returns a new ID of length n drawn from the generator's
// alphabet. Rejects any random byte whose masked value falls outside the
// alphabet range rather than reducing it modulo len(alphabet), so every
// character in the alphabet has exactly equal probability.
func (g *Generator) Generate(n int) (string, error) {
	if n <= 0 {
		panic("idgen: length must be positive")
	}
	alphabetLen := len(g.alphabet)
	out := make([]byte, n)
	buf := make([]byte, 0, n+n/4+16)
	filled := 0
	for filled < n {
		need := n - filled
		chunk := need + need/4 + 16
		buf = buf[:0]
		if cap(buf) < chunk {
			buf = make([]byte, chunk)
		} else {
			buf = buf[:chunk]
		}
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			idx := b & g.mask
			if int(idx) >= alphabetLen {
				continue // rejection: keep the distribution uniform
			}
			out[filled] = g.alphabet[idx]
			filled++
			if filled == n {
				break
			}
		}
	}
	return string(out), nil
}

// ID generates a DefaultLength-character ID from the default generator.
func ID() (string, error) {
	return Default.Generate(DefaultLength)
}

// MustID panics on entropy-source failure, for call sites where a missing
// ID is unrecoverable anyway (e.g. constructing a new Envelope).
func MustID() string {
	id, err := ID()
	if err != nil {
		panic(err)
	}
	return id
}
