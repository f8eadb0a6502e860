package confloader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SaveValue updates one dotted key in a YAML configuration file,
// preserving every other key. The file is created if missing.
//
// Used by setup mode to persist the discovered primary chat id without
// clobbering hand-edited settings.
func SaveValue(path string, key string, value any) error {
	if path == "" {
		return fmt.Errorf("confloader: config file path is required to save")
	}

	root := map[string]any{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &root); err != nil {
			return fmt.Errorf("confloader: parse %s: %w", path, err)
		}
		if root == nil {
			root = map[string]any{}
		}
	case os.IsNotExist(err):
		// Start from an empty document.
	default:
		return fmt.Errorf("confloader: read %s: %w", path, err)
	}

	setNested(root, splitKey(key), value)

	out, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("confloader: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("confloader: write %s: %w", path, err)
	}
	return nil
}

// setNested walks the key path, creating maps as needed.
func setNested(node map[string]any, path []string, value any) {
	if len(path) == 1 {
		node[path[0]] = value
		return
	}

	child, ok := node[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		node[path[0]] = child
	}
	setNested(child, path[1:], value)
}

func splitKey(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	return append(parts, key[start:])
}
