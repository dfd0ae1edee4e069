package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// StripNulls removes null members of objects, recursively. Null array
// elements are kept so indexes stay stable.
func StripNulls(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			if val == nil {
				delete(x, k)
				continue
			}
			x[k] = StripNulls(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = StripNulls(x[i])
		}
		return x
	}
	return v
}

// toTree converts a document to its generic JSON form.
func toTree(doc any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return StripNulls(tree), nil
}

// Merge sets the StackTraces member of the JSON object extra, which may
// contain comments and trailing commas. Empty input is treated as {}.
func Merge(extra []byte, st *StackTraces) ([]byte, error) {
	doc := map[string]any{}
	if len(extra) > 0 {
		if err := json.Unmarshal(jsonc.ToJSON(extra), &doc); err != nil {
			return nil, fmt.Errorf("parse extra document: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}
	tree, err := toTree(st)
	if err != nil {
		return nil, fmt.Errorf("encode stack traces: %w", err)
	}
	doc[Key] = tree
	return json.Marshal(StripNulls(doc))
}

// MergeIntoExtra merges st into the .extra file at path, creating it if
// needed. The file is replaced atomically.
func MergeIntoExtra(path string, st *StackTraces) error {
	extra, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	out, err := Merge(extra, st)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return writeAtomic(path, out)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ExtraPath returns the sidecar path of a minidump: dump.dmp -> dump.extra.
func ExtraPath(minidumpPath string) string {
	ext := filepath.Ext(minidumpPath)
	return minidumpPath[:len(minidumpPath)-len(ext)] + ".extra"
}
