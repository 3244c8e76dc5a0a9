package store

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	FooterMagic  uint32 = 0xC02893E8
	FooterLength        = 16

	checksumXXHash64 uint32 = 1
)

// ChecksumOutput hashes every byte written through it so a footer can be
// appended on close.
type ChecksumOutput struct {
	out    IndexOutput
	digest *xxhash.Digest
}

// NewChecksumOutput wraps out.
func NewChecksumOutput(out IndexOutput) *ChecksumOutput {
	return &ChecksumOutput{out: out, digest: xxhash.New()}
}

func (c *ChecksumOutput) Write(p []byte) (int, error) {
	n, err := c.out.Write(p)
	c.digest.Write(p[:n])
	return n, err
}

func (c *ChecksumOutput) Name() string { return c.out.Name() }

func (c *ChecksumOutput) FilePointer() int64 { return c.out.FilePointer() }

// WriteFooter appends magic, algorithm id and the running checksum.
func (c *ChecksumOutput) WriteFooter() error {
	var buf [FooterLength]byte
	binary.BigEndian.PutUint32(buf[0:4], FooterMagic)
	binary.BigEndian.PutUint32(buf[4:8], checksumXXHash64)
	c.digest.Write(buf[:8])
	binary.BigEndian.PutUint64(buf[8:16], c.digest.Sum64())
	_, err := c.out.Write(buf[:])
	return err
}

// Close closes the underlying output without writing a footer.
func (c *ChecksumOutput) Close() error { return c.out.Close() }

// CheckFooter validates the footer structure and returns the file body
// without hashing it.
func CheckFooter(name string, data []byte) ([]byte, error) {
	if len(data) < FooterLength {
		return nil, fmt.Errorf("%w: %s: file too short for footer (%d bytes)", ErrCorruptIndex, name, len(data))
	}
	footer := data[len(data)-FooterLength:]
	if magic := binary.BigEndian.Uint32(footer[0:4]); magic != FooterMagic {
		return nil, fmt.Errorf("%w: %s: bad footer magic %x", ErrCorruptIndex, name, magic)
	}
	if algo := binary.BigEndian.Uint32(footer[4:8]); algo != checksumXXHash64 {
		return nil, fmt.Errorf("%w: %s: unknown checksum algorithm %d", ErrCorruptIndex, name, algo)
	}
	return data[:len(data)-FooterLength], nil
}

// VerifyChecksum hashes the whole file and compares it with the footer.
func VerifyChecksum(name string, data []byte) error {
	if _, err := CheckFooter(name, data); err != nil {
		return err
	}
	want := binary.BigEndian.Uint64(data[len(data)-8:])
	got := xxhash.Sum64(data[:len(data)-8])
	if got != want {
		return fmt.Errorf("%w: %s: checksum mismatch (footer=%x actual=%x)", ErrCorruptIndex, name, want, got)
	}
	return nil
}
