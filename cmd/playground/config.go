package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jshsmth/forgeframe"
)

// componentDef is the declarative shape of a component, loaded from a YAML
// file named by --component. It mirrors the fields of forgeframe.Config
// that make sense to express as data rather than as Go closures.
type componentDef struct {
	Tag        string            `yaml:"tag"`
	URL        string            `yaml:"url"`
	Width      any               `yaml:"width"`
	Height     any               `yaml:"height"`
	Props      map[string]any    `yaml:"props"`
	Style      map[string]string `yaml:"style"`
	Attributes map[string]string `yaml:"attributes"`
	AutoResize *autoResizeDef    `yaml:"autoResize"`
	Timeout    string            `yaml:"timeout"`
}

type autoResizeDef struct {
	Width   bool   `yaml:"width"`
	Height  bool   `yaml:"height"`
	Element string `yaml:"element"`
}

func loadComponentDef(path string) (*componentDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: reading component file: %w", err)
	}
	var def componentDef
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("forgeframe: parsing component file: %w", err)
	}
	if def.Tag == "" {
		return nil, fmt.Errorf("forgeframe: component file %s has no tag", path)
	}
	return &def, nil
}

func (d *componentDef) timeout(fallback time.Duration) time.Duration {
	return parseDuration(d.Timeout, fallback)
}

func (d *componentDef) autoResize() *forgeframe.AutoResizeConfig {
	if d.AutoResize == nil {
		return nil
	}
	return &forgeframe.AutoResizeConfig{
		Width:   d.AutoResize.Width,
		Height:  d.AutoResize.Height,
		Element: d.AutoResize.Element,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}
