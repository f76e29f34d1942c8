//go:build windows

package portfile

import "os"

func (osFS) Access(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	return f.Close()
}
