package snapshot

import (
	"errors"
	"os"
)

// writeAndSyncFile opens or creates a file, writes data to it
// and calls Sync to ensure the data is flushed to stable storage.
func writeAndSyncFile(filename string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// replaceFile atomically replaces filename with data.
func replaceFile(filename string, data []byte, perm os.FileMode) error {
	tmp := filename + ".tmp"
	if err := writeAndSyncFile(tmp, data, perm); err != nil {
		return errors.Join(err, os.Remove(tmp))
	}
	return os.Rename(tmp, filename)
}

// syncDir opens a directory and calls Sync to ensure its metadata is flushed to stable storage.
func syncDir(dir string) (err error) {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := f.Close(); cerr != nil {
			if err != nil {
				err = errors.Join(err, cerr)
			} else {
				err = cerr
			}
		}
	}()

	return f.Sync()
}
