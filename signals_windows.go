//go:build windows

package main

import "os"

func reloadSignals() <-chan os.Signal {
	return nil
}
