package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

// backupAttemptLimit bounds the same-day suffix search; hitting it
// means something is repeatedly creating backups without cleanup.
const backupAttemptLimit = 1000

// createBackup copies the store file to a sibling named
//
//	<path>.<yyyy-mm-dd>.V<fromVersion><suffix>.bak
//
// where suffix is empty for the first backup of that day and version,
// and "-2", "-3", ... afterwards. An existing backup is never
// overwritten. Backups are left on disk after a successful migration
// for operator inspection and rollback.
func createBackup(path string, fromVersion int) (string, error) {
	base := fmt.Sprintf("%s.%s.V%d", path, time.Now().Format("2006-01-02"), fromVersion)
	for n := 1; n <= backupAttemptLimit; n++ {
		suffix := ""
		if n > 1 {
			suffix = fmt.Sprintf("-%d", n)
		}
		dst := base + suffix + ".bak"
		err := copyFileExclusive(path, dst)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("backup %s: %w", path, err)
		}
		return dst, nil
	}
	return "", fmt.Errorf("backup %s: too many backups for %s", path, base)
}

// copyFileExclusive copies src to dst, failing with fs.ErrExist if dst
// already exists.
func copyFileExclusive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
