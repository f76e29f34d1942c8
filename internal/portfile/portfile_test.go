package portfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		port    int
		expiry  int64
		wantErr bool
	}{
		{name: "plain", raw: "12345", port: 12345},
		{name: "trailing newline", raw: "12345\n", port: 12345},
		{name: "surrounding whitespace", raw: "  \t51413 \r\n", port: 51413},
		{name: "expiry same line", raw: "40000 1700000000\n", port: 40000, expiry: 1700000000},
		{name: "expiry next line", raw: "40000\n1700000000\n", port: 40000, expiry: 1700000000},
		{name: "lowest port", raw: "1", port: 1},
		{name: "highest port", raw: "65535", port: 65535},
		{name: "empty", raw: "", wantErr: true},
		{name: "whitespace only", raw: " \n\t", wantErr: true},
		{name: "zero", raw: "0", wantErr: true},
		{name: "above range", raw: "65536", wantErr: true},
		{name: "far above range", raw: "999999", wantErr: true},
		{name: "overflow", raw: "99999999999999999999999", wantErr: true},
		{name: "negative", raw: "-80", wantErr: true},
		{name: "plus sign", raw: "+80", wantErr: true},
		{name: "hex", raw: "0x50", wantErr: true},
		{name: "letters", raw: "port", wantErr: true},
		{name: "bad expiry", raw: "12345 soon", wantErr: true},
		{name: "three fields", raw: "12345 1700000000 extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Parse([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrParse))
				var pe *ParseError
				require.True(t, errors.As(err, &pe))
				assert.NotEmpty(t, pe.Reason)
				assert.Equal(t, Record{}, rec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.port, rec.Port)
			if tt.expiry == 0 {
				assert.False(t, rec.HasExpiry())
			} else {
				assert.Equal(t, tt.expiry, rec.ExpiresAt.Unix())
			}
		})
	}
}

func TestRecordExpiredAt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.False(t, Record{Port: 1}.ExpiredAt(now))
	assert.True(t, Record{Port: 1, ExpiresAt: now.Add(-time.Second)}.ExpiredAt(now))
	assert.False(t, Record{Port: 1, ExpiresAt: now}.ExpiredAt(now))
	assert.False(t, Record{Port: 1, ExpiresAt: now.Add(time.Hour)}.ExpiredAt(now))
}

type countingFS struct {
	fstest.MapFS
	stats int
	reads int
}

func (c *countingFS) Stat(name string) (fs.FileInfo, error) {
	c.stats++
	return c.MapFS.Stat(name)
}

func (c *countingFS) ReadFile(name string) ([]byte, error) {
	c.reads++
	return c.MapFS.ReadFile(name)
}

func TestReaderCheck_SkipsReadWhenModTimeUnchanged(t *testing.T) {
	mtime := time.Unix(1_700_000_000, 0)
	fsys := &countingFS{MapFS: fstest.MapFS{
		"forwarded_port": {Data: []byte("12345\n"), ModTime: mtime},
	}}
	r := NewReader(fsys)

	first, err := r.Check("forwarded_port", time.Time{})
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, "12345\n", string(first.Raw))
	assert.True(t, first.ModTime.Equal(mtime))

	second, err := r.Check("forwarded_port", first.ModTime)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Nil(t, second.Raw)

	assert.Equal(t, 2, fsys.stats)
	assert.Equal(t, 1, fsys.reads)
}

func TestReaderCheck_RereadsOnNewModTime(t *testing.T) {
	fsys := &countingFS{MapFS: fstest.MapFS{
		"forwarded_port": {Data: []byte("12345"), ModTime: time.Unix(100, 0)},
	}}
	r := NewReader(fsys)

	first, err := r.Check("forwarded_port", time.Time{})
	require.NoError(t, err)

	fsys.MapFS["forwarded_port"] = &fstest.MapFile{Data: []byte("23456"), ModTime: time.Unix(200, 0)}
	second, err := r.Check("forwarded_port", first.ModTime)
	require.NoError(t, err)
	assert.True(t, second.Changed)
	assert.Equal(t, "23456", string(second.Raw))
	assert.Equal(t, 2, fsys.reads)
}

func TestReaderCheck_MissingFile(t *testing.T) {
	r := NewReader(nil)

	_, err := r.Check(filepath.Join(t.TempDir(), "missing"), time.Time{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
}

func TestReaderCheck_Directory(t *testing.T) {
	r := NewReader(nil)

	_, err := r.Check(t.TempDir(), time.Time{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
}

func TestReaderCheck_HostFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forwarded_port")
	require.NoError(t, os.WriteFile(path, []byte("51413 1900000000\n"), 0o644))

	r := NewReader(nil)
	res, err := r.Check(path, time.Time{})
	require.NoError(t, err)
	require.True(t, res.Changed)

	rec, err := Parse(res.Raw)
	require.NoError(t, err)
	assert.Equal(t, 51413, rec.Port)
	assert.Equal(t, int64(1900000000), rec.ExpiresAt.Unix())
}

func TestReaderCheck_PermissionRevokedWithoutModTimeChange(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes do not revoke reads on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	path := filepath.Join(t.TempDir(), "forwarded_port")
	require.NoError(t, os.WriteFile(path, []byte("51413\n"), 0o644))

	r := NewReader(nil)
	first, err := r.Check(path, time.Time{})
	require.NoError(t, err)
	require.True(t, first.Changed)

	require.NoError(t, os.Chmod(path, 0))
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(first.ModTime))

	_, err = r.Check(path, first.ModTime)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
}

func TestOSImplementsAccessFS(t *testing.T) {
	_, ok := OS.(AccessFS)
	assert.True(t, ok)
}
