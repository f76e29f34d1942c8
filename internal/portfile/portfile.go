// Package portfile reads the forwarded-port file published by the VPN
// port-forwarding script.
//
// The file holds one or two whitespace separated decimal fields, either on a
// single line or across two lines:
//
//	PORT
//	PORT EXPIRY_EPOCH_SECONDS
//
// Leading and trailing whitespace is ignored. Any other shape is rejected.
package portfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
)

const (
	MinPort = 1
	MaxPort = 65535
)

var (
	// ErrIO marks a missing or unreadable port file. It is expected while the
	// VPN is still coming up or being torn down.
	ErrIO = errors.New("port file unavailable")
	// ErrParse marks content that does not hold a usable port.
	ErrParse = errors.New("invalid port file content")
)

// ParseError describes why the file content was rejected.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse port file: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// Record is a validated port read from the file.
type Record struct {
	Port      int       `json:"port"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// HasExpiry reports whether the file carried an expiry timestamp.
func (r Record) HasExpiry() bool {
	return !r.ExpiresAt.IsZero()
}

// ExpiredAt reports whether the record is expired at now.
func (r Record) ExpiredAt(now time.Time) bool {
	return r.HasExpiry() && r.ExpiresAt.Before(now)
}

func (r Record) String() string {
	if !r.HasExpiry() {
		return strconv.Itoa(r.Port)
	}
	return fmt.Sprintf("%d (expires %s)", r.Port, r.ExpiresAt.UTC().Format(time.RFC3339))
}

// Parse validates raw file content and returns the port record it encodes.
func Parse(raw []byte) (Record, error) {
	fields := bytes.Fields(raw)
	switch len(fields) {
	case 0:
		return Record{}, &ParseError{Reason: "file is empty"}
	case 1, 2:
	default:
		return Record{}, &ParseError{Reason: fmt.Sprintf("expected at most 2 fields, got %d", len(fields))}
	}

	port, err := parseDigits(fields[0])
	if err != nil {
		return Record{}, &ParseError{Reason: fmt.Sprintf("port %q: %v", fields[0], err)}
	}
	if port < MinPort || port > MaxPort {
		return Record{}, &ParseError{Reason: fmt.Sprintf("port %d out of range %d-%d", port, MinPort, MaxPort)}
	}

	rec := Record{Port: int(port)}
	if len(fields) == 2 {
		expiry, err := parseDigits(fields[1])
		if err != nil {
			return Record{}, &ParseError{Reason: fmt.Sprintf("expiry %q: %v", fields[1], err)}
		}
		rec.ExpiresAt = time.Unix(int64(expiry), 0)
	}
	return rec, nil
}

// parseDigits accepts plain ASCII decimal digits only, so signs, hex prefixes
// and underscores are rejected even where strconv would allow them.
func parseDigits(field []byte) (uint64, error) {
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, errors.New("not a decimal number")
		}
	}
	v, err := strconv.ParseUint(string(field), 10, 63)
	if err != nil {
		return 0, errors.New("number too large")
	}
	return v, nil
}

// FS is the filesystem subset used by the reader.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
}

// AccessFS is an FS that can tell whether a file is readable without
// reading it. Check uses it to notice revoked permissions, which leave the
// modification time untouched.
type AccessFS interface {
	FS
	Access(name string) error
}

type osFS struct{}

func (osFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }
func (osFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

// OS is the FS backed by the host filesystem.
var OS FS = osFS{}

// Check is the result of one Reader.Check call.
type Check struct {
	Changed bool
	ModTime time.Time
	Raw     []byte
}

// Reader checks the port file for changes.
type Reader struct {
	fs FS
}

// NewReader returns a Reader over fsys, or over the host filesystem when fsys
// is nil.
func NewReader(fsys FS) *Reader {
	if fsys == nil {
		fsys = OS
	}
	return &Reader{fs: fsys}
}

// Check stats path and only reads its content when the modification time
// differs from lastModTime. A missing or unreadable file yields an error
// wrapping ErrIO.
func (r *Reader) Check(path string, lastModTime time.Time) (Check, error) {
	info, err := r.fs.Stat(path)
	if err != nil {
		return Check{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if info.IsDir() {
		return Check{}, fmt.Errorf("%w: %s is a directory", ErrIO, path)
	}

	if a, ok := r.fs.(AccessFS); ok {
		if err := a.Access(path); err != nil {
			return Check{}, fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	modTime := info.ModTime()
	if !lastModTime.IsZero() && modTime.Equal(lastModTime) {
		return Check{ModTime: modTime}, nil
	}

	raw, err := r.fs.ReadFile(path)
	if err != nil {
		return Check{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return Check{Changed: true, ModTime: modTime, Raw: raw}, nil
}
