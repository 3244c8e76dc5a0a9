package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func writeChecksummed(t *testing.T, dir Directory, name string, body []byte) {
	t.Helper()
	out, err := dir.CreateOutput(name)
	require.NoError(t, err)
	cout := NewChecksumOutput(out)
	_, err = cout.Write(body)
	require.NoError(t, err)
	require.NoError(t, cout.WriteFooter())
	require.EqualValues(t, len(body)+FooterLength, cout.FilePointer())
	require.NoError(t, cout.Close())
}

func TestChecksumRoundTrip(t *testing.T) {
	dir := NewRAMDirectory()
	writeChecksummed(t, dir, "f", []byte("some index bytes"))

	data, err := ReadFile(dir, "f")
	require.NoError(t, err)
	require.NoError(t, VerifyChecksum("f", data))

	body, err := CheckFooter("f", data)
	require.NoError(t, err)
	require.Equal(t, []byte("some index bytes"), body)
}

func TestChecksumDetectsCorruption(t *testing.T) {
	dir := NewRAMDirectory()
	writeChecksummed(t, dir, "f", []byte("some index bytes"))
	data, err := ReadFile(dir, "f")
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[3] ^= 0xff
	require.ErrorIs(t, VerifyChecksum("f", flipped), ErrCorruptIndex)

	badMagic := append([]byte(nil), data...)
	badMagic[len(badMagic)-FooterLength] ^= 0x01
	_, err = CheckFooter("f", badMagic)
	require.ErrorIs(t, err, ErrCorruptIndex)

	_, err = CheckFooter("f", data[:4])
	require.ErrorIs(t, err, ErrCorruptIndex)
}
