package content

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	yaml "go.yaml.in/yaml/v3"
)

var (
	ErrNoFrontmatter = errors.New("no frontmatter")
	ErrNoDate        = errors.New("frontmatter has no date")
)

type Format int

const (
	TOML Format = iota + 1
	YAML
)

func (f Format) fence() string {
	if f == YAML {
		return "---"
	}
	return "+++"
}

func (f Format) String() string {
	switch f {
	case TOML:
		return "toml"
	case YAML:
		return "yaml"
	}
	return "unknown"
}

// Document is a post split at its frontmatter fences.
type Document struct {
	Format Format
	// Lines of the frontmatter, without fences and line terminators.
	Lines []string
	Body  []byte
}

var bom = []byte("\xef\xbb\xbf")

// Split parses the frontmatter block opened by the first line of b.
func Split(b []byte) (*Document, error) {
	b = bytes.TrimPrefix(b, bom)
	first, rest, ok := cutLine(b)
	if !ok && len(first) == 0 {
		return nil, ErrNoFrontmatter
	}
	var f Format
	switch strings.TrimRight(first, " \t") {
	case "+++":
		f = TOML
	case "---":
		f = YAML
	default:
		return nil, ErrNoFrontmatter
	}

	var lines []string
	for len(rest) > 0 {
		var line string
		line, rest, _ = cutLine(rest)
		if strings.TrimRight(line, " \t") == f.fence() {
			return &Document{Format: f, Lines: lines, Body: rest}, nil
		}
		lines = append(lines, line)
	}
	return nil, fmt.Errorf("%w: unterminated %s block", ErrNoFrontmatter, f)
}

func cutLine(b []byte) (line string, rest []byte, found bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return strings.TrimSuffix(string(b), "\r"), nil, false
	}
	return strings.TrimSuffix(string(b[:i]), "\r"), b[i+1:], true
}

// Bytes reassembles the document.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(d.Format.fence())
	buf.WriteByte('\n')
	for _, l := range d.Lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	buf.WriteString(d.Format.fence())
	buf.WriteByte('\n')
	buf.Write(d.Body)
	return buf.Bytes()
}

// Fields decodes the frontmatter.
func (d *Document) Fields() (map[string]any, error) {
	src := strings.Join(d.Lines, "\n")
	out := map[string]any{}
	switch d.Format {
	case TOML:
		if _, err := toml.Decode(src, &out); err != nil {
			return nil, fmt.Errorf("toml frontmatter: %w", err)
		}
	case YAML:
		nodes := map[string]yaml.Node{}
		if err := yaml.Unmarshal([]byte(src), &nodes); err != nil {
			return nil, fmt.Errorf("yaml frontmatter: %w", err)
		}
		for k, n := range nodes {
			v, err := yamlValue(&n)
			if err != nil {
				return nil, fmt.Errorf("yaml frontmatter: %s: %w", k, err)
			}
			out[k] = v
		}
	}
	return out, nil
}

// yamlValue decodes n. Timestamps are kept as their source text: yaml.v3
// resolves offset-less ones to UTC, while they belong to the site timezone.
func yamlValue(n *yaml.Node) (any, error) {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!timestamp" {
		return n.Value, nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// topLevelEnd is the index past the last top-level key line. TOML keys after
// the first table header belong to that table.
func (d *Document) topLevelEnd() int {
	if d.Format != TOML {
		return len(d.Lines)
	}
	for i, l := range d.Lines {
		if strings.HasPrefix(strings.TrimSpace(l), "[") {
			return i
		}
	}
	return len(d.Lines)
}

func (d *Document) keyOf(line string) (string, bool) {
	if d.Format == YAML && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
		return "", false
	}
	sep := "="
	if d.Format == YAML {
		sep = ":"
	}
	k, _, ok := strings.Cut(line, sep)
	if !ok {
		return "", false
	}
	k = strings.TrimSpace(k)
	k = strings.Trim(k, `"'`)
	if k == "" || strings.HasPrefix(k, "#") {
		return "", false
	}
	return k, true
}

// Set replaces the top-level key line, or inserts it first when absent.
// value must already be encoded for the document format.
func (d *Document) Set(key, value string) {
	line := key + " = " + value
	if d.Format == YAML {
		line = key + ": " + value
	}
	end := d.topLevelEnd()
	for i := 0; i < end; i++ {
		if k, ok := d.keyOf(d.Lines[i]); ok && k == key {
			d.Lines[i] = line
			return
		}
	}
	d.Lines = append([]string{line}, d.Lines...)
}

// Drop removes every top-level line for key. It reports whether one existed.
func (d *Document) Drop(key string) bool {
	end := d.topLevelEnd()
	kept := make([]string, 0, len(d.Lines))
	dropped := false
	for i, l := range d.Lines {
		if i < end {
			if k, ok := d.keyOf(l); ok && k == key {
				dropped = true
				continue
			}
		}
		kept = append(kept, l)
	}
	d.Lines = kept
	return dropped
}

// SetDate writes t as the document date.
func (d *Document) SetDate(t time.Time) {
	d.Set("date", t.Format(time.RFC3339))
}

func (d *Document) SetString(key, s string) {
	if d.Format == YAML {
		b, _ := yaml.Marshal(s)
		d.Set(key, strings.TrimSpace(string(b)))
		return
	}
	d.Set(key, fmt.Sprintf("%q", s))
}

// localLayouts are tried for dates given as strings, in order.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// offsetLayouts cover the space-separated forms YAML allows besides RFC 3339.
var offsetLayouts = []string{
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 Z07:00",
}

const dateOnly = "2006-01-02"

// dateValue converts a decoded date to an instant. Values without an offset
// are read in loc; a bare date is placed at hour:minute.
func dateValue(v any, loc *time.Location, hour, minute int) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		name := t.Location().String()
		switch {
		case name == "time-local":
			return time.Time{}, fmt.Errorf("date %s has no day", t.Format("15:04:05"))
		case name == "date-local":
			return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, loc), nil
		case strings.HasSuffix(name, "-local"):
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
		}
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, nil
		}
		for _, layout := range offsetLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		for _, layout := range localLayouts {
			if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
				return ts, nil
			}
		}
		if ts, err := time.ParseInLocation(dateOnly, s, loc); err == nil {
			return ts.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), nil
		}
		return time.Time{}, fmt.Errorf("unrecognised date %q", t)
	}
	return time.Time{}, fmt.Errorf("unsupported date value of type %T", v)
}
