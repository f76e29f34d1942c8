// Package host talks to the application whose listening port is kept in sync:
// it edits its settings file, asks it to reconnect and probes its listeners.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/clbanning/mxj/v2"
	"github.com/ghodss/yaml"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported settings format")
	ErrKeyNotFound       = errors.New("setting not found")
)

// FileSettings reads and writes a dotted key path inside a settings file
// owned by the host application.
type FileSettings struct {
	path   string
	format string

	mu sync.Mutex
}

// NewFileSettings returns settings backed by path. An empty format is derived
// from the file extension.
func NewFileSettings(path, format string) (*FileSettings, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch f {
	case "json", "xml":
	case "yaml", "yml":
		f = "yaml"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	return &FileSettings{path: path, format: f}, nil
}

// Path returns the settings file.
func (s *FileSettings) Path() string { return s.path }

// GetSetting returns the value stored under key.
func (s *FileSettings) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("read settings file: %w", err)
	}

	if s.format == "xml" {
		m, err := mxj.NewMapXml(data)
		if err != nil {
			return "", fmt.Errorf("parse settings file: %w", err)
		}
		v, err := m.ValueForPath(xmlPath(m, key))
		if err != nil || v == nil {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return scalarString(v), nil
	}

	doc, err := s.decode(data)
	if err != nil {
		return "", err
	}
	v, ok := lookup(doc, splitKey(key))
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return scalarString(v), nil
}

// SetSetting stores value under key, creating intermediate objects as needed.
// Integer values are written as numbers.
func (s *FileSettings) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read settings file: %w", err)
	}

	var out []byte
	if s.format == "xml" {
		out, err = setXML(data, key, value)
	} else {
		out, err = s.setDocument(data, key, value)
	}
	if err != nil {
		return err
	}
	return writeFile(s.path, out)
}

func (s *FileSettings) decode(data []byte) (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	// ghodss/yaml reads JSON as well since JSON is a subset of YAML.
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return doc, nil
}

func (s *FileSettings) setDocument(data []byte, key, value string) ([]byte, error) {
	doc, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	if err := assign(doc, splitKey(key), typedValue(value)); err != nil {
		return nil, err
	}

	switch s.format {
	case "json":
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode settings file: %w", err)
		}
		return append(out, '\n'), nil
	default:
		out, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode settings file: %w", err)
		}
		return out, nil
	}
}

func setXML(data []byte, key, value string) ([]byte, error) {
	var m mxj.Map
	if len(strings.TrimSpace(string(data))) == 0 {
		m = mxj.Map{"settings": map[string]interface{}{}}
	} else {
		var err error
		m, err = mxj.NewMapXml(data)
		if err != nil {
			return nil, fmt.Errorf("parse settings file: %w", err)
		}
	}
	if err := assign(m, splitKey(xmlPath(m, key)), value); err != nil {
		return nil, err
	}
	out, err := m.XmlIndent("", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode settings file: %w", err)
	}
	return append(out, '\n'), nil
}

// xmlPath anchors key under the document's root element.
func xmlPath(m mxj.Map, key string) string {
	if len(m) != 1 {
		return key
	}
	for root := range m {
		if key == root || strings.HasPrefix(key, root+".") {
			return key
		}
		return root + "." + key
	}
	return key
}

func splitKey(key string) []string {
	return strings.Split(strings.Trim(key, "."), ".")
}

func lookup(doc map[string]interface{}, parts []string) (interface{}, bool) {
	var cur interface{} = doc
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func assign(doc map[string]interface{}, parts []string, v interface{}) error {
	cur := doc
	for i, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok || next == nil || next == "" {
			child := map[string]interface{}{}
			cur[p] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("cannot set %s: %s is not an object", strings.Join(parts, "."), strings.Join(parts[:i+1], "."))
		}
		cur = child
	}
	cur[parts[len(parts)-1]] = v
	return nil
}

func typedValue(s string) interface{} {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]interface{}:
		// mxj keeps attributes next to the element text.
		if text, ok := t["#text"]; ok {
			return scalarString(text)
		}
	}
	return fmt.Sprint(v)
}

// writeFile replaces path through a temp file in the same directory, keeping
// the previous content as path.bak.
func writeFile(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
		if err := copyFile(path, path+".bak", mode); err != nil {
			return fmt.Errorf("backup settings file: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod settings file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
