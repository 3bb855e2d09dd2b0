// Package cfb layers optional AES-128-CFB8 encryption over a netio.Stream.
// A stream starts in plaintext mode; EnableEncryption arms encryption for
// both directions at once and from that point on every byte written is
// encrypted and every byte read is decrypted. Arming is one-way: once
// enabled, a stream can never return to plaintext.
//
// Minecraft's login handshake (and the legacy OpenSSL EVP_aes_128_cfb8 mode
// it was modeled on) uses an 8-bit-feedback variant of CFB that the standard
// library does not provide — crypto/cipher.NewCFBEncrypter implements
// 128-bit-segment CFB, not CFB-8. There is no third-party module in reach
// here that exports the 8-bit variant either, so the 16-line shift-register
// construction below is hand-rolled from the algorithm definition rather
// than pulled from a library; see DESIGN.md.
package cfb

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"net"
	"sync"

	"github.com/exserverd/mcmitm/netio"
)

// Stream wraps a netio.Stream, encrypting/decrypting once armed.
//
// A Stream's read side and write side are driven from different goroutines
// in the MITM core (one recvLoop per direction), and EnableEncryption is
// called by whichever loop forwards the EncryptionResponse — not
// necessarily the loop that owns this Stream's read or write path. mu
// guards enabled/block/encIV/decIV so that arming encryption establishes a
// happens-before edge with every subsequent read or write instead of racing
// with them.
type Stream struct {
	inner *netio.Stream

	mu      sync.Mutex
	block   cipher.Block
	encIV   []byte // shift register, mutates per byte
	decIV   []byte
	enabled bool
}

// New wraps inner with no encryption armed.
func New(inner *netio.Stream) *Stream {
	return &Stream{inner: inner}
}

// Conn exposes the underlying net.Conn.
func (s *Stream) Conn() net.Conn {
	return s.inner.Conn()
}

// EnableEncryption arms AES-128-CFB8 using key as both the AES key and the
// initial shift-register value (IV = key) for both the encryptor and
// decryptor. This reuse of the key as the IV is intentional — required for
// interoperability with the real client/server — and must not be "fixed"
// into a random IV.
func (s *Stream) EnableEncryption(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return fmt.Errorf("cfb: enable encryption: already enabled")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("cfb: enable encryption: %w", err)
	}
	s.block = block
	s.encIV = append([]byte(nil), key...)
	s.decIV = append([]byte(nil), key...)
	s.enabled = true
	return nil
}

// Enabled reports whether encryption has been armed.
func (s *Stream) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// ReadExact reads and, if armed, decrypts exactly n bytes. The network read
// itself happens outside the lock; only the decrypt (and the enabled check
// guarding it) is synchronized against EnableEncryption.
func (s *Stream) ReadExact(n int) ([]byte, error) {
	buf, err := s.inner.ReadExact(n)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.enabled {
		s.decryptInPlace(buf)
	}
	s.mu.Unlock()
	return buf, nil
}

// ReadByte reads and, if armed, decrypts a single byte.
func (s *Stream) ReadByte() (byte, error) {
	b, err := s.inner.ReadByte()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		buf := []byte{b}
		s.decryptInPlace(buf)
		return buf[0], nil
	}
	return b, nil
}

// ReadAvailable reads and, if armed, decrypts whatever is presently
// available.
func (s *Stream) ReadAvailable() ([]byte, error) {
	buf, err := s.inner.ReadAvailable()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.enabled && len(buf) > 0 {
		s.decryptInPlace(buf)
	}
	s.mu.Unlock()
	return buf, nil
}

// Write encrypts (if armed) and writes p. The input slice is not mutated.
func (s *Stream) Write(p []byte) error {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return s.inner.Write(p)
	}
	out := make([]byte, len(p))
	copy(out, p)
	s.encryptInPlace(out)
	s.mu.Unlock()
	return s.inner.Write(out)
}

// Flush blocks until buffered bytes reach the OS socket buffer.
func (s *Stream) Flush() error {
	return s.inner.Flush()
}

// Close closes the underlying connection.
func (s *Stream) Close() error {
	return s.inner.Close()
}

// decryptInPlace applies CFB-8 decryption: for each ciphertext byte c, the
// keystream byte is the first byte of AES-encrypt(shift register); the
// shift register then drops its oldest byte and appends c.
func (s *Stream) decryptInPlace(buf []byte) {
	var tmp [aes.BlockSize]byte
	for i, c := range buf {
		s.block.Encrypt(tmp[:], s.decIV)
		p := c ^ tmp[0]
		shiftIn(s.decIV, c)
		buf[i] = p
	}
}

// encryptInPlace applies CFB-8 encryption: for each plaintext byte p, the
// keystream byte is the first byte of AES-encrypt(shift register); the
// shift register then drops its oldest byte and appends the resulting
// ciphertext byte.
func (s *Stream) encryptInPlace(buf []byte) {
	var tmp [aes.BlockSize]byte
	for i, p := range buf {
		s.block.Encrypt(tmp[:], s.encIV)
		c := p ^ tmp[0]
		shiftIn(s.encIV, c)
		buf[i] = c
	}
}

// shiftIn drops reg[0], shifts the rest left by one, and appends b — the
// one-byte feedback shift register update at the heart of CFB-8.
func shiftIn(reg []byte, b byte) {
	copy(reg, reg[1:])
	reg[len(reg)-1] = b
}
