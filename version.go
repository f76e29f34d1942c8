package main

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)
