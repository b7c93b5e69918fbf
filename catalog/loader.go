package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var documentSchema string

// document is the on-disk shape of a template group file.
type document struct {
	TemplateGroup *TemplateGroup `json:"templateGroup"`
}

// Loader reads template group documents from a directory.
type Loader struct {
	dir    string
	schema *gojsonschema.Schema
	logger *slog.Logger
}

// NewLoader creates a loader for the .json, .yaml and .yml files in dir.
func NewLoader(dir string, log *slog.Logger) (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile template group schema: %w", err)
	}
	return &Loader{
		dir:    dir,
		schema: schema,
		logger: logger.OrDefault(log),
	}, nil
}

// Dir returns the directory the loader reads from.
func (l *Loader) Dir() string {
	return l.dir
}

// Load reads every document in the directory in lexical order. Files that
// cannot be parsed or fail validation are logged and skipped; for duplicate
// group ids the first file wins. A missing directory is an error.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template directory %s: %w", l.dir, err)
	}

	var groups []*TemplateGroup
	seen := make(map[string]string)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !isDocument(entry.Name()) {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		group, err := l.LoadFile(path)
		if err != nil {
			l.logger.Warn("skipping invalid template group file", "file", path, "error", err)
			continue
		}

		if first, dup := seen[group.ID]; dup {
			l.logger.Warn("skipping duplicate template group",
				"file", path, "template_group", group.ID, "first_file", first)
			continue
		}
		seen[group.ID] = path
		groups = append(groups, group)
	}

	l.logger.Info("loaded template groups", "directory", l.dir, "count", len(groups))
	return New(groups...), nil
}

// LoadFile parses and validates a single template group document.
func (l *Loader) LoadFile(path string) (*TemplateGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return l.Parse(data, filepath.Ext(path))
}

// Parse decodes a document in the format named by ext (".json", ".yaml" or
// ".yml"), validates it against the document schema and returns its group.
func (l *Loader) Parse(data []byte, ext string) (*TemplateGroup, error) {
	if ext = strings.ToLower(ext); ext == ".yaml" || ext == ".yml" {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = converted
	}

	result, err := l.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode template group: %w", err)
	}
	if err := ValidateTemplateGroup(doc.TemplateGroup); err != nil {
		return nil, err
	}
	return doc.TemplateGroup, nil
}

func isDocument(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML to JSON: %w", err)
	}
	return out, nil
}
