package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const jsonIndent = "    "

// parseJSON reads JSON through the yaml parser, which accepts it as flow
// style YAML and keeps object key order. Flow styles are cleared so the tree
// writes back as block YAML.
func parseJSON(data []byte) (*yaml.Node, error) {
	if !json.Valid(data) {
		return nil, errors.New("invalid JSON document")
	}
	root, err := parseYAML(data)
	if err != nil {
		return nil, err
	}
	clearStyle(root)
	return root, nil
}

func clearStyle(node *yaml.Node) {
	node.Style = 0
	for _, child := range node.Content {
		clearStyle(child)
	}
}

// writeJSONNode renders a yaml node tree as indented JSON in document order.
func writeJSONNode(buf *bytes.Buffer, node *yaml.Node, depth int) error {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeJSONNode(buf, node.Content[0], depth)
	case yaml.AliasNode:
		return writeJSONNode(buf, node.Alias, depth)
	case yaml.MappingNode:
		if len(node.Content) == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteString("{\n")
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: non-scalar mapping key", key.Line)
			}
			writeIndent(buf, depth+1)
			if err := writeJSONString(buf, key.Value); err != nil {
				return err
			}
			buf.WriteString(": ")
			if err := writeJSONNode(buf, node.Content[i+1], depth+1); err != nil {
				return err
			}
			if i+2 < len(node.Content) {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		writeIndent(buf, depth)
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteString("[\n")
		for i, item := range node.Content {
			writeIndent(buf, depth+1)
			if err := writeJSONNode(buf, item, depth+1); err != nil {
				return err
			}
			if i+1 < len(node.Content) {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		writeIndent(buf, depth)
		buf.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		return writeJSONScalar(buf, node)
	}
	return fmt.Errorf("line %d: unsupported node kind %v", node.Line, node.Kind)
}

func writeJSONScalar(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.ShortTag() {
	case "!!null":
		buf.WriteString("null")
		return nil
	case "!!int", "!!float":
		if json.Valid([]byte(node.Value)) {
			buf.WriteString(node.Value)
			return nil
		}
	case "!!str":
		return writeJSONString(buf, node.Value)
	}

	var v any
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	buf.Write(data)
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

func writeIndent(buf *bytes.Buffer, depth int) {
	buf.WriteString(strings.Repeat(jsonIndent, depth))
}
