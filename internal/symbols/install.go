package symbols

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotSymbolFile is returned by Install for input that does not start
// with a MODULE record.
var ErrNotSymbolFile = errors.New("not a breakpad symbol file")

// Install copies the symbol file read from r into the directory layout
// served by Breakpad and returns the installed path. An existing file for
// the same module is replaced.
func Install(root string, r io.Reader) (string, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	first, err := br.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || first == "") {
		return "", fmt.Errorf("%w: %v", ErrNotSymbolFile, err)
	}

	var head SymbolFile
	keyword, _, _ := strings.Cut(first, " ")
	if keyword != "MODULE" {
		return "", ErrNotSymbolFile
	}
	if err := head.parseRecord(strings.TrimRight(first, "\r\n")); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotSymbolFile, err)
	}
	if !isDebugID(head.DebugID) || head.DebugFile == "" || head.DebugFile == ".." ||
		strings.ContainsAny(head.DebugFile, `/\`) {
		return "", fmt.Errorf("%w: bad module id %q %q", ErrNotSymbolFile, head.DebugID, head.DebugFile)
	}

	path := symbolPath(root, head.DebugFile, head.DebugID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sym-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.WriteString(tmp, first); err != nil {
		tmp.Close()
		return "", err
	}
	if _, err := io.Copy(tmp, br); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

func isDebugID(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
