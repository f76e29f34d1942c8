//go:build windows

package main

import (
	"errors"
	"flag"
	"net"

	"github.com/Microsoft/go-winio"
)

func platformFlags() {
	flag.StringVar(&socket, "socket", "", `path to a Windows named pipe (e.g. \\.\pipe\portsync) to serve the API on instead of api.listen`)
}

func trySocketListener() (net.Listener, error) {
	if socket == "" {
		return nil, nil
	}
	addr = socket
	return winio.ListenPipe(socket, nil)
}

func dropPrivileges(uid, gid int) error {
	return errors.New("setuid and setgid not supported on Windows")
}
