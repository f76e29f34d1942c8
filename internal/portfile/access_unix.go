//go:build !windows

package portfile

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

func (osFS) Access(name string) error {
	if err := unix.Access(name, unix.R_OK); err != nil {
		return &fs.PathError{Op: "access", Path: name, Err: err}
	}
	return nil
}
