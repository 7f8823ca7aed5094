package style

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a style table:
//
//	mappings:
//	  - "severity=high;#red"
//	  - "active=true;#green"
type File struct {
	Mappings []string `yaml:"mappings"`
}

func ReadFile(r io.Reader) (File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return File{}, fmt.Errorf("read style file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse style file: %w", err)
	}
	return f, nil
}

// LoadMappings collects mappings from the comma-separated inline list and,
// when path is set, the YAML file at path. File entries come last.
func LoadMappings(inline, path string) ([]string, error) {
	var out []string
	for _, s := range strings.Split(inline, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if strings.TrimSpace(path) == "" {
		return out, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open style file: %w", err)
	}
	defer fh.Close()
	f, err := ReadFile(fh)
	if err != nil {
		return nil, err
	}
	return append(out, f.Mappings...), nil
}
