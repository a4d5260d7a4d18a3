// Package cmdset loads the command lists that are pushed to devices.
//
// A command file holds one command per line. Blank lines and lines whose first
// non-blank character is '!' or '#' are comments. Leading indentation is kept
// because some device CLIs use it to express configuration hierarchy.
package cmdset

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoMatch is returned when a pattern matches no file.
var ErrNoMatch = errors.New("no command file matches pattern")

const maxLineLength = 64 * 1024

// Parse reads commands from r.
func Parse(r io.Reader) ([]string, error) {
	var cmds []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "!") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		cmds = append(cmds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse commands: %w", err)
	}
	return cmds, nil
}

// LoadFiles expands each doublestar pattern against fsys and concatenates the
// commands of every matched file. Matches of one pattern are read in lexical
// order; patterns are processed in the order given.
func LoadFiles(fsys fs.FS, patterns ...string) ([]string, error) {
	var cmds []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoMatch, pattern)
		}
		sort.Strings(matches)

		for _, name := range matches {
			data, err := fs.ReadFile(fsys, name)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
			parsed, err := Parse(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			cmds = append(cmds, parsed...)
		}
	}
	return cmds, nil
}

// LoadPaths is LoadFiles for patterns naming files on the local filesystem.
// Each pattern may be absolute or relative to the working directory.
func LoadPaths(patterns ...string) ([]string, error) {
	var cmds []string
	for _, p := range patterns {
		base, pattern := doublestar.SplitPattern(p)
		parsed, err := LoadFiles(os.DirFS(base), pattern)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, parsed...)
	}
	return cmds, nil
}

// RemoteReader reads files stored on a device.
type RemoteReader interface {
	Glob(pattern string) ([]string, error)
	ReadFile(path string) ([]byte, error)
}

// LoadRemote reads the command files matching pattern from a device.
func LoadRemote(r RemoteReader, pattern string) ([]string, error) {
	paths := []string{pattern}
	if doublestar.ValidatePattern(pattern) && strings.ContainsAny(pattern, "*?[{") {
		matches, err := r.Glob(pattern)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoMatch, pattern)
		}
		paths = matches
	}

	var cmds []string
	for _, path := range paths {
		data, err := r.ReadFile(path)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		cmds = append(cmds, parsed...)
	}
	return cmds, nil
}
