package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	controlLine      = regexp.MustCompile(`^([a-zA-Z0-9_]+)\s*=\s*(.*?)\s*$`)
	trancheParameter = regexp.MustCompile(`^tranche_(.*?)_(partition|mapping)$`)
)

// listKeys are control values holding colon-separated lists.
var listKeys = map[string]string{
	"targetformats":          "target_formats",
	"target_formats":         "target_formats",
	"tranche_types":          "tranche_types",
	"file_fieldnames":        "file_fieldnames",
	"attributes_to_generate": "attributes_to_generate",
}

// Control is a parsed workflow control file (all.ctrl).
type Control struct {
	Values     map[string]string
	Partitions map[string][]string
	Mappings   map[string]map[string]string
}

func newControl() *Control {
	return &Control{
		Values:     map[string]string{},
		Partitions: map[string][]string{},
		Mappings:   map[string]map[string]string{},
	}
}

// LoadControl reads a control file. Files ending in .yaml or .yml are parsed
// as YAML, anything else as key=value lines.
func LoadControl(path string) (*Control, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open control file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseControlYAML(f)
	default:
		return ParseControl(f)
	}
}

// ParseControl parses key=value control lines. Lines that do not match are
// ignored (comments, blank lines).
func ParseControl(r io.Reader) (*Control, error) {
	c := newControl()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := controlLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		if err := c.set(m[1], m[2]); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read control file: %w", err)
	}
	return c, nil
}

// ParseControlYAML parses a YAML control document. Scalar values are treated
// like key=value lines; tranche_partitions and tranche_mappings may be given
// as native YAML collections.
func ParseControlYAML(r io.Reader) (*Control, error) {
	var doc map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode yaml control file: %v", ErrInvalidConfig, err)
	}

	c := newControl()
	for key, node := range doc {
		switch {
		case key == "tranche_partitions" && node.Kind == yaml.MappingNode:
			var parts map[string][]string
			if err := node.Decode(&parts); err != nil {
				return nil, fmt.Errorf("%w: tranche_partitions: %v", ErrInvalidConfig, err)
			}
			for t, p := range parts {
				c.Partitions[t] = p
			}
		case key == "tranche_mappings" && node.Kind == yaml.MappingNode:
			var maps map[string]map[string]string
			if err := node.Decode(&maps); err != nil {
				return nil, fmt.Errorf("%w: tranche_mappings: %v", ErrInvalidConfig, err)
			}
			for t, m := range maps {
				c.Mappings[t] = m
			}
		case node.Kind == yaml.SequenceNode:
			var items []string
			if err := node.Decode(&items); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			if err := c.set(key, strings.Join(items, ":")); err != nil {
				return nil, err
			}
		case node.Kind == yaml.ScalarNode:
			if err := c.set(key, node.Value); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unsupported value for %s", ErrInvalidConfig, key)
		}
	}
	return c, nil
}

func (c *Control) set(key, value string) error {
	m := trancheParameter.FindStringSubmatch(key)
	if m == nil {
		c.Values[key] = value
		return nil
	}

	trancheType := m[1]
	if m[2] == "partition" {
		c.Partitions[trancheType] = strings.Split(value, ":")
		return nil
	}

	mapping := map[string]string{}
	for _, pair := range strings.Split(value, ",") {
		from, to, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("%w: tranche_%s_mapping entry %q is not from:to", ErrInvalidConfig, trancheType, pair)
		}
		mapping[from] = to
	}
	c.Mappings[trancheType] = mapping
	return nil
}

// Job converts the control values into a Job. The returned notes describe
// values that were replaced by defaults.
func (c *Control) Job() (*Job, []string, error) {
	var notes []string
	doc := map[string]any{}

	for key, value := range c.Values {
		if value == "" {
			continue
		}
		if target, ok := listKeys[key]; ok {
			doc[target] = strings.Split(value, ":")
			continue
		}
		if strings.HasSuffix(key, "_timeout") && !isUint(value) && isEngineTimeout(key) {
			notes = append(notes, fmt.Sprintf("'%s' not valid, so setting to default of %d", key, DefaultTimeout))
			continue
		}
		doc[key] = value
	}
	doc["tranche_partitions"] = c.Partitions
	doc["tranche_mappings"] = c.Mappings

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encode control values: %w", err)
	}

	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	notes = append(notes, j.ApplyDefaults()...)
	return &j, notes, nil
}

func isEngineTimeout(key string) bool {
	var j Job
	for _, f := range j.timeoutFields() {
		if f.key == key {
			return true
		}
	}
	return false
}

func isUint(v string) bool {
	_, err := strconv.ParseUint(v, 10, 32)
	return err == nil
}
