// Package config reads and writes configuration documents and collects the
// settings of the trainkit commands from flags and the environment.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	internalerrors "github.com/Schera-ole/trainkit/internal/errors"
)

// Format is the on-disk encoding of a configuration document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%s: %w", path, internalerrors.ErrUnrecognizedFileType)
	}
}

// Document is a parsed configuration file together with the format it was
// read in. Key order of the source file is kept.
type Document struct {
	Format Format
	Root   *yaml.Node
}

// NewDocument builds a document of the given format from v.
func NewDocument(format Format, v any) (*Document, error) {
	doc := &Document{Format: format}
	if err := doc.Encode(v); err != nil {
		return nil, err
	}
	return doc, nil
}

// ReadDocument parses the file at path as JSON or YAML depending on its extension.
func ReadDocument(path string) (*Document, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var root *yaml.Node
	switch format {
	case FormatJSON:
		root, err = parseJSON(data)
	case FormatYAML:
		root, err = parseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &Document{Format: format, Root: root}, nil
}

// WriteDocument writes doc to path in the format it was read in.
func WriteDocument(path string, doc *Document) error {
	return WriteDocumentAs(path, doc, doc.Format)
}

// WriteDocumentAs writes doc to path in the given format.
func WriteDocumentAs(path string, doc *Document, format Format) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = marshalJSON(doc.Root)
	case FormatYAML:
		data, err = marshalYAML(doc.Root)
	default:
		return fmt.Errorf("format %q: %w", format, internalerrors.ErrUnrecognizedFileType)
	}
	if err != nil {
		return fmt.Errorf("encode config %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Decode stores the document content in the value pointed to by v.
func (d *Document) Decode(v any) error {
	if d.Root == nil {
		return nil
	}
	return d.Root.Decode(v)
}

// Encode replaces the document content with v.
func (d *Document) Encode(v any) error {
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	d.Root = &node
	return nil
}

func parseYAML(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0], nil
	}
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
}

func marshalYAML(root *yaml.Node) ([]byte, error) {
	if root == nil {
		root = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalJSON(root *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	if root == nil {
		buf.WriteString("{}")
	} else if err := writeJSONNode(&buf, root, 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	if !json.Valid(buf.Bytes()) {
		return nil, fmt.Errorf("document does not form valid JSON")
	}
	return buf.Bytes(), nil
}
