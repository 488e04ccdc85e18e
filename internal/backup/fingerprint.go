package backup

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Fingerprint is a digest of a file's bytes. It is used only to detect
// whether a fetch changed the local copy, never for security, which is why
// MD5 is sufficient here.
type Fingerprint string

// AbsentFingerprint is the sentinel for a file that does not exist. Real
// digests are 32 hex characters, so the sentinel never collides with one.
const AbsentFingerprint Fingerprint = ""

// FingerprintFile hashes the file's current bytes. A missing file yields
// AbsentFingerprint with no error. The file is re-read on every call; the
// only use is a before/after comparison around a single fetch.
func FingerprintFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return AbsentFingerprint, nil
		}
		return AbsentFingerprint, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return AbsentFingerprint, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}
