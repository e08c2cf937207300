package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// FieldType names the value bound to a configured field.
type FieldType string

const (
	FieldInt     FieldType = "int"
	FieldFloat   FieldType = "float"
	FieldBool    FieldType = "bool"
	FieldText    FieldType = "text"
	FieldDecimal FieldType = "decimal"
	// FieldFormula is a value computed from formula text.
	FieldFormula FieldType = "formula"
	// FieldScript is formula text consumed by the node, e.g. a condition.
	FieldScript FieldType = "script"
	// FieldFunction is a custom function callable from formulas.
	FieldFunction FieldType = "function"
	// FieldList is a list of Element values.
	FieldList FieldType = "list"
	// FieldObject is a reference to an allow-listed type named by Object.
	FieldObject FieldType = "object"
)

var fieldTypes = map[FieldType]struct{}{
	FieldInt: {}, FieldFloat: {}, FieldBool: {}, FieldText: {}, FieldDecimal: {},
	FieldFormula: {}, FieldScript: {}, FieldFunction: {}, FieldList: {}, FieldObject: {},
}

// Known reports whether t is a supported field type.
func (t FieldType) Known() bool {
	_, ok := fieldTypes[t]
	return ok
}

// Scalar reports whether t can be a list element type.
func (t FieldType) Scalar() bool {
	switch t {
	case FieldInt, FieldFloat, FieldBool, FieldText, FieldDecimal:
		return true
	}
	return false
}

// ModuleReference captures metadata about the configuration source that defined an entry.
type ModuleReference struct {
	File        string `json:"file,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ModuleInclude describes a referenced configuration module.
type ModuleInclude struct {
	Path        string
	Name        string
	Description string
}

// UnmarshalYAML allows module includes to be declared either as scalar strings or structured objects.
func (m *ModuleInclude) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return errors.New("module include node is nil")
	}
	switch value.Kind {
	case yaml.ScalarNode:
		var path string
		if err := value.Decode(&path); err != nil {
			return fmt.Errorf("decode module path: %w", err)
		}
		m.Path = strings.TrimSpace(path)
		return nil
	case yaml.MappingNode:
		type rawModule struct {
			Path        string `yaml:"path"`
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
		}
		var raw rawModule
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("decode module include: %w", err)
		}
		if raw.Path == "" {
			return errors.New("module include missing path")
		}
		m.Path = raw.Path
		m.Name = raw.Name
		m.Description = raw.Description
		return nil
	default:
		return fmt.Errorf("unsupported module include node kind %d", value.Kind)
	}
}

// FieldConfig declares a global, input or output field.
type FieldConfig struct {
	Name string    `yaml:"name"`
	Type FieldType `yaml:"type"`
	// Value is the literal payload; a list of scalars for list fields and a
	// mapping of properties for object fields.
	Value interface{} `yaml:"value,omitempty"`
	// Formula holds the text of formula, script and function fields.
	Formula string `yaml:"formula,omitempty"`
	// Policy is "always" (default) or "cache" for formula fields.
	Policy    string    `yaml:"policy,omitempty"`
	Element   FieldType `yaml:"element,omitempty"`
	Object    string    `yaml:"object,omitempty"`
	Params    []string  `yaml:"params,omitempty"`
	Renamable bool      `yaml:"renamable,omitempty"`
}

// ListConfig declares a function list owned by a node.
type ListConfig struct {
	Globals   []FieldConfig    `yaml:"globals,omitempty"`
	Functions []FunctionConfig `yaml:"functions,omitempty"`
}

// FunctionConfig declares one node. Inputs and outputs named like the
// defaults of the kind replace them; others are added.
type FunctionConfig struct {
	Kind     string                `yaml:"kind"`
	Name     string                `yaml:"name,omitempty"`
	Disabled bool                  `yaml:"disabled,omitempty"`
	Inputs   []FieldConfig         `yaml:"inputs,omitempty"`
	Outputs  []FieldConfig         `yaml:"outputs,omitempty"`
	Lists    map[string]ListConfig `yaml:"lists,omitempty"`
	Source   ModuleReference       `yaml:"-"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures the Prometheus exporter.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// EngineConfig tunes formula evaluation.
type EngineConfig struct {
	// Shadowing is "outer" (default) or "inner".
	Shadowing    string `yaml:"shadowing,omitempty"`
	MaxDepth     int    `yaml:"max_depth,omitempty"`
	MaxCallDepth int    `yaml:"max_call_depth,omitempty"`
}

// Config is the root of a graph document.
type Config struct {
	Name           string           `yaml:"name,omitempty"`
	Description    string           `yaml:"description,omitempty"`
	Cycle          Duration         `yaml:"cycle,omitempty"`
	HotReload      bool             `yaml:"hot_reload,omitempty"`
	ReloadInterval Duration         `yaml:"reload_interval,omitempty"`
	Logging        LoggingConfig    `yaml:"logging,omitempty"`
	Telemetry      TelemetryConfig  `yaml:"telemetry,omitempty"`
	Engine         EngineConfig     `yaml:"engine,omitempty"`
	Modules        []ModuleInclude  `yaml:"modules,omitempty"`
	Globals        []FieldConfig    `yaml:"globals,omitempty"`
	Functions      []FunctionConfig `yaml:"functions,omitempty"`
	Source         ModuleReference  `yaml:"-"`
	// Includes lists the modules merged into the document.
	Includes []ModuleReference `yaml:"-"`
}

// Load reads, validates and decodes the document at path. A directory loads
// every YAML file in it in name order.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	visited := make(map[string]struct{})
	var cfg *Config
	if info.IsDir() {
		cfg, err = loadDir(abs, visited)
	} else {
		cfg, err = loadFile(abs, visited)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse validates and decodes a single document without modules.
func Parse(name string, raw []byte) (*Config, error) {
	cfg, err := decode(name, raw)
	if err != nil {
		return nil, err
	}
	if len(cfg.Modules) > 0 {
		return nil, fmt.Errorf("%s: modules require a document loaded from disk", name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CycleInterval returns the configured invocation interval.
func (c *Config) CycleInterval() time.Duration {
	if c == nil || c.Cycle.Duration <= 0 {
		return time.Second
	}
	return c.Cycle.Duration
}

// ReloadCheckInterval returns how often source files are checked for changes.
func (c *Config) ReloadCheckInterval() time.Duration {
	if c == nil || c.ReloadInterval.Duration <= 0 {
		return 2 * time.Second
	}
	return c.ReloadInterval.Duration
}

func decode(name string, raw []byte) (*Config, error) {
	if err := validateSchema(name, raw); err != nil {
		return nil, err
	}
	var document yaml.Node
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", name, err)
	}
	if len(document.Content) == 0 || document.Content[0] == nil {
		return nil, fmt.Errorf("config %s is empty", name)
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config %s: top-level YAML document must be a mapping", name)
	}
	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", name, err)
	}
	return &cfg, nil
}

func loadFile(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := decode(path, raw)
	if err != nil {
		return nil, err
	}
	cfg.setSource(ModuleReference{File: path, Name: cfg.Name, Description: cfg.Description})

	modules := cfg.Modules
	cfg.Modules = nil

	baseDir := filepath.Dir(path)
	for _, module := range modules {
		if module.Path == "" {
			continue
		}
		modulePath := module.Path
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(baseDir, module.Path)
		}

		info, err := os.Stat(modulePath)
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}

		var child *Config
		if info.IsDir() {
			child, err = loadDir(modulePath, visited)
		} else {
			child, err = loadFile(modulePath, visited)
		}
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}
		child.applyModuleMetadata(ModuleReference{
			Name:        firstNonEmpty(module.Name, child.Source.Name),
			Description: firstNonEmpty(module.Description, child.Source.Description),
		})
		mergeConfig(cfg, child)
	}
	return cfg, nil
}

func loadDir(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := &Config{}
	result.setSource(ModuleReference{File: path})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := loadFile(filepath.Join(path, entry.Name()), visited)
		if err != nil {
			return nil, err
		}
		mergeConfig(result, cfg)
	}
	return result, nil
}

func mergeConfig(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}

	if dst.Name == "" {
		dst.Name = src.Name
	}
	if src.Cycle.Duration != 0 {
		dst.Cycle = src.Cycle
	}
	if src.ReloadInterval.Duration != 0 {
		dst.ReloadInterval = src.ReloadInterval
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.Loki.Enabled || src.Logging.Loki.URL != "" || len(src.Logging.Loki.Labels) > 0 {
		dst.Logging.Loki = src.Logging.Loki
	}
	if src.Telemetry != (TelemetryConfig{}) {
		dst.Telemetry = src.Telemetry
	}
	if src.Engine != (EngineConfig{}) {
		dst.Engine = src.Engine
	}
	if src.HotReload {
		dst.HotReload = true
	}

	dst.Includes = append(dst.Includes, src.Source)
	dst.Includes = append(dst.Includes, src.Includes...)
	dst.Globals = append(dst.Globals, src.Globals...)
	dst.Functions = append(dst.Functions, src.Functions...)
}

func (c *Config) setSource(meta ModuleReference) {
	if c == nil {
		return
	}
	if meta.File == "" {
		meta.File = c.Source.File
	}
	c.Source = meta
	for i := range c.Functions {
		c.Functions[i].Source = mergeInitialSource(c.Functions[i].Source, meta)
	}
}

func (c *Config) applyModuleMetadata(meta ModuleReference) {
	if c == nil {
		return
	}
	c.Source = mergeModuleOverride(c.Source, meta)
	for i := range c.Functions {
		c.Functions[i].Source = mergeModuleOverride(c.Functions[i].Source, meta)
	}
}

func mergeInitialSource(child, meta ModuleReference) ModuleReference {
	if child.File == "" && meta.File != "" {
		child.File = meta.File
	}
	if child.Name == "" && meta.Name != "" {
		child.Name = meta.Name
	}
	if child.Description == "" && meta.Description != "" {
		child.Description = meta.Description
	}
	return child
}

func mergeModuleOverride(base, override ModuleReference) ModuleReference {
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Description != "" {
		base.Description = override.Description
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// SourceFiles returns the files that contributed to cfg, for change
// detection.
func SourceFiles(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	files := make(map[string]struct{})
	add := func(ref ModuleReference) {
		path := strings.TrimSpace(ref.File)
		if path == "" {
			return
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		files[abs] = struct{}{}
	}
	add(cfg.Source)
	for _, ref := range cfg.Includes {
		add(ref)
	}
	for _, fn := range cfg.Functions {
		add(fn.Source)
	}
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
