// Package loader enumerates component files under a root directory and
// parses them into classified, flattened raw documents for the Validator,
// following loom's declarative-file-loading style: read, parse, validate
// structure, hand off.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/force-engine/force/internal/component"
)

// subtrees are the six directories a root may contain, in discovery order.
var subtrees = []string{"tools", "patterns", "constraints", "governance", "variants", "learning"}

// aggregateKeys maps each recognized top-level array key in an aggregate
// file to the Kind it flattens into, including the learning_records key
// documented alongside component.AggregateKey.
var aggregateKeys = map[string]component.Kind{
	"tools":               component.KindTool,
	"patterns":            component.KindPattern,
	"constraints":         component.KindConstraint,
	"governance_policies": component.KindGovernance,
	"variants":            component.KindVariant,
	"learning_records":    component.KindLearning,
}

// FileEntry is one component document discovered on disk, still unvalidated.
type FileEntry struct {
	Path     string                 // file the document was read from
	KindHint component.Kind         // from the containing subtree, "" if unknown
	Index    int                    // position within an aggregate file, -1 for standalone files
	Raw      map[string]interface{} // the parsed document
}

// Loader enumerates and parses component files under a root directory.
type Loader struct {
	root string
}

// New builds a Loader rooted at root.
func New(root string) *Loader {
	return &Loader{root: root}
}

// Enumerate walks the six component subtrees and returns one FileEntry per
// discovered component, flattening aggregate files as it goes. Registry.Reload
// calls it; Stream is the channel-based variant of the same walk.
func (l *Loader) Enumerate() ([]FileEntry, error) {
	var out []FileEntry
	ch := make(chan FileEntry, 64)
	errCh := make(chan error, 1)

	go func() {
		errCh <- l.walk(ch)
		close(ch)
	}()

	for entry := range ch {
		out = append(out, entry)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}

// Stream walks the six subtrees and sends each discovered component onto ch.
// It does not close ch: the caller owns ch's lifetime and closes it after
// Stream returns the walk's error.
func (l *Loader) Stream(ch chan<- FileEntry) error {
	return l.walk(ch)
}

func (l *Loader) walk(ch chan<- FileEntry) error {
	for _, dir := range subtrees {
		hint := component.KindFromDir(dir)
		subroot := filepath.Join(l.root, dir)

		info, err := os.Stat(subroot)
		if err != nil {
			if os.IsNotExist(err) {
				continue // optional subtree (variants/, learning/) may be absent
			}
			return fmt.Errorf("loader: stat %s: %w", subroot, err)
		}
		if !info.IsDir() {
			continue
		}

		walkErr := filepath.WalkDir(subroot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != subroot {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}

			ext := strings.ToLower(filepath.Ext(path))
			if dir == "learning" && ext != ".json" {
				return nil // execution_log.jsonl is handled by internal/learning, not the Loader
			}
			if ext != ".json" && ext != ".yaml" && ext != ".yml" {
				return nil
			}

			entries, err := l.parseFile(path, hint, ext)
			if err != nil {
				ch <- FileEntry{Path: path, KindHint: hint, Index: -1, Raw: map[string]interface{}{
					"__parse_error__": err.Error(),
				}}
				return nil
			}
			for _, e := range entries {
				ch <- e
			}
			return nil
		})
		if walkErr != nil {
			return fmt.Errorf("loader: walk %s: %w", subroot, walkErr)
		}
	}
	return nil
}

// parseFile reads one file and flattens it into one or more FileEntries:
// a single component object yields one entry (Index -1); an aggregate
// object whose keys match aggregateKeys yields one entry per array element.
func (l *Loader) parseFile(path string, hint component.Kind, ext string) ([]FileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var doc map[string]interface{}
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		doc = normalizeYAMLMaps(doc).(map[string]interface{})
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	if agg := flattenAggregate(doc); agg != nil {
		entries := make([]FileEntry, 0, len(agg))
		for i, raw := range agg {
			entries = append(entries, FileEntry{Path: path, KindHint: hint, Index: i, Raw: raw})
		}
		return entries, nil
	}

	return []FileEntry{{Path: path, KindHint: hint, Index: -1, Raw: doc}}, nil
}

// flattenAggregate returns the flattened component list if doc is an
// aggregate file (a recognized array key at the top level), otherwise nil.
// When several recognized keys are present, the first one found in map
// iteration order is used and the others are ignored.
func flattenAggregate(doc map[string]interface{}) []map[string]interface{} {
	for key := range aggregateKeys {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		arr, ok := raw.([]interface{})
		if !ok {
			continue
		}
		out := make([]map[string]interface{}, 0, len(arr))
		for _, item := range arr {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// normalizeYAMLMaps converts the map[string]interface{} tree that yaml.v3
// already produces for mapping nodes into itself; kept as a hook so nested
// map[interface{}]interface{} values from older YAML decoders would be
// normalized here too, matching the defensive style of the pack's own YAML
// loaders (loom's pattern library loader runs a similar structural pass
// before validating).
func normalizeYAMLMaps(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeYAMLMaps(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeYAMLMaps(val)
		}
		return t
	default:
		return v
	}
}
