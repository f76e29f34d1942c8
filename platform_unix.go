//go:build !windows

package main

import (
	"errors"
	"flag"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

func platformFlags() {
	flag.StringVar(&socket, "socket", "", "path to a Unix socket (e.g. /run/portsync.sock) to serve the API on instead of api.listen")
	flag.IntVar(&setGID, "setgid", 0, "set group ID after opening the listening socket; must be used with setuid")
	flag.IntVar(&setUID, "setuid", 0, "set user ID after opening the listening socket; must be used with setgid")
}

func trySocketListener() (net.Listener, error) {
	if socket == "" {
		return nil, nil
	}
	if err := os.Remove(socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	addr = socket
	return net.Listen("unix", socket)
}

func dropPrivileges(uid, gid int) error {
	if err := unix.Setgroups([]int{gid}); err != nil {
		return err
	}
	if err := unix.Setgid(gid); err != nil {
		return err
	}
	return unix.Setuid(uid)
}
