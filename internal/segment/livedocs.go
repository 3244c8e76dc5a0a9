package segment

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/store"
)

// WriteLiveDocs writes the deleted-doc bitmap of a segment as a new
// deletion generation and returns the file name.
func WriteLiveDocs(dir store.Directory, segment string, delGen int64, deleted *roaring.Bitmap) (string, error) {
	name := LiveDocsFileName(segment, delGen)
	data, err := deleted.ToBytes()
	if err != nil {
		return "", err
	}
	out, err := dir.CreateOutput(name)
	if err != nil {
		return "", err
	}
	cout := store.NewChecksumOutput(out)
	if _, err := cout.Write(data); err != nil {
		cout.Close()
		dir.DeleteFile(name)
		return "", fmt.Errorf("failed to write live docs %s: %w", name, err)
	}
	if err := cout.WriteFooter(); err != nil {
		cout.Close()
		dir.DeleteFile(name)
		return "", fmt.Errorf("failed to write live docs %s: %w", name, err)
	}
	if err := cout.Close(); err != nil {
		dir.DeleteFile(name)
		return "", err
	}
	return name, nil
}

// ReadLiveDocs reads and verifies a deleted-doc bitmap.
func ReadLiveDocs(dir store.Directory, segment string, delGen int64, maxDoc int) (*roaring.Bitmap, error) {
	name := LiveDocsFileName(segment, delGen)
	data, err := store.ReadFile(dir, name)
	if err != nil {
		return nil, err
	}
	if err := store.VerifyChecksum(name, data); err != nil {
		return nil, err
	}
	deleted := roaring.New()
	if err := deleted.UnmarshalBinary(data[:len(data)-store.FooterLength]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrCorruptIndex, name, err)
	}
	if !deleted.IsEmpty() && int(deleted.Maximum()) >= maxDoc {
		return nil, fmt.Errorf("%w: %s: deleted doc %d >= maxDoc %d", store.ErrCorruptIndex, name, deleted.Maximum(), maxDoc)
	}
	return deleted, nil
}
