package configtree

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FromYAML parses a YAML document into a tree. Mapping order is preserved.
func FromYAML(data []byte) (*Section, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return FromNode(&doc)
}

// FromNode converts an already decoded YAML node into a tree. A nil or
// zero node yields an empty tree.
func FromNode(node *yaml.Node) (*Section, error) {
	root := Empty()
	if node == nil || node.Kind == 0 {
		return root, nil
	}
	if err := fill(root, node); err != nil {
		return nil, err
	}
	return root, nil
}

func fill(dst *Section, node *yaml.Node) error {
	switch node.Kind {
	case yaml.DocumentNode:
		for _, c := range node.Content {
			if err := fill(dst, c); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: mapping key under %q must be a scalar", k.Line, dst.path)
			}
			if k.Tag == "!!merge" {
				if err := fill(dst, v); err != nil {
					return err
				}
				continue
			}
			if err := fill(dst.child(k.Value, true), v); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for i, c := range node.Content {
			if err := fill(dst.child(strconv.Itoa(i), true), c); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		dst.value = node.Value
		dst.hasValue = true
	case yaml.AliasNode:
		if node.Alias == nil {
			return fmt.Errorf("line %d: dangling alias under %q", node.Line, dst.path)
		}
		return fill(dst, node.Alias)
	}
	return nil
}
