package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"

	"github.com/BoldingBruggeman/xmlstore/internal/datatypes"
	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// ExportXML renders the values document as XML text, exactly as Save
// writes it.
func (s *Store) ExportXML() string { return xmldom.String(s.doc) }

// ToDOM returns a deep copy of the values document.
func (s *Store) ToDOM() *xmldom.Element { return s.doc.Clone() }

// ExportJSON renders the visible value tree as indented JSON: groups
// become objects, repeated instances arrays, and a node that carries
// both a value and children puts the value under a "value" key. With
// useDefault set, unset nodes take their default.
func (s *Store) ExportJSON(useDefault bool) ([]byte, error) {
	data := []byte("{}")
	var err error
	data, err = s.exportJSONChildren(data, "", s.root, useDefault)
	if err != nil {
		return nil, err
	}
	return pretty.Pretty(data), nil
}

func (s *Store) exportJSONChildren(data []byte, prefix string, n *Node, useDefault bool) ([]byte, error) {
	counts := map[string]int{}
	for _, child := range n.children {
		if !child.Visible() {
			continue
		}
		seg := escapeJSONSegment(child.Name())
		if child.Repeatable() {
			seg = fmt.Sprintf("%s.%d", seg, counts[child.Name()])
			counts[child.Name()]++
		}
		path := seg
		if prefix != "" {
			path = prefix + "." + seg
		}

		var err error
		if id := child.SecondaryID(); id != "" {
			if data, err = sjson.SetBytes(data, path+".id", id); err != nil {
				return nil, err
			}
		}
		if child.CanHaveValue() {
			value, verr := exportValue(child, useDefault)
			if verr != nil {
				return nil, verr
			}
			if value != nil {
				valuePath := path
				if child.CanHaveChildren() || child.SecondaryID() != "" {
					valuePath = path + ".value"
				}
				if data, err = sjson.SetBytes(data, valuePath, value); err != nil {
					return nil, err
				}
			}
		}
		if data, err = s.exportJSONChildren(data, path, child, useDefault); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func escapeJSONSegment(name string) string {
	var out strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			out.WriteByte('\\')
		}
		out.WriteRune(r)
	}
	return out.String()
}

// exportValue fetches a node's value in a JSON friendly shape:
// numbers, booleans and strings pass through, everything else is
// formatted the way the XML text holds it. nil means no value.
func exportValue(n *Node, useDefault bool) (any, error) {
	var v any
	var err error
	if useDefault {
		v, err = n.ValueOrDefault()
	} else {
		v, err = n.Value()
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	defer datatypes.Release(v)

	switch v.(type) {
	case bool, int64, float64, string:
		return v, nil
	}
	typ, err := n.valueType()
	if err != nil {
		return nil, err
	}
	formatted, err := typ.Format(v)
	if err != nil {
		return nil, err
	}
	return formatted, nil
}

// Query evaluates a gjson dot path against the JSON export.
func (s *Store) Query(path string, useDefault bool) (gjson.Result, error) {
	data, err := s.ExportJSON(useDefault)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.GetBytes(data, path), nil
}

// ExportYAML renders the visible value tree as YAML, with mapping
// keys in schema order.
func (s *Store) ExportYAML(useDefault bool) ([]byte, error) {
	root, err := s.exportYAMLNode(s.root, useDefault)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(root)
}

func (s *Store) exportYAMLNode(n *Node, useDefault bool) (*yaml.Node, error) {
	// The same shape rule as the JSON export: a node with children or
	// a secondary id becomes a mapping and its own value moves under a
	// "value" key; a plain leaf is its value.
	if n.CanHaveValue() && !n.CanHaveChildren() && n.SecondaryID() == "" {
		value, err := exportValue(n, useDefault)
		if err != nil || value == nil {
			return nil, err
		}
		return yamlScalar(value), nil
	}

	mapping := &yaml.Node{Kind: yaml.MappingNode}
	if id := n.SecondaryID(); id != "" {
		appendYAMLPair(mapping, "id", yamlScalar(id))
	}
	if n.CanHaveValue() {
		value, err := exportValue(n, useDefault)
		if err != nil {
			return nil, err
		}
		if value != nil {
			appendYAMLPair(mapping, "value", yamlScalar(value))
		}
	}

	sequences := map[string]*yaml.Node{}
	for _, child := range n.children {
		if !child.Visible() {
			continue
		}
		childNode, err := s.exportYAMLNode(child, useDefault)
		if err != nil {
			return nil, err
		}
		if childNode == nil {
			continue
		}
		name := child.Name()
		if child.Repeatable() {
			seq, ok := sequences[name]
			if !ok {
				seq = &yaml.Node{Kind: yaml.SequenceNode}
				sequences[name] = seq
				appendYAMLPair(mapping, name, seq)
			}
			seq.Content = append(seq.Content, childNode)
			continue
		}
		appendYAMLPair(mapping, name, childNode)
	}
	return mapping, nil
}

func appendYAMLPair(mapping *yaml.Node, key string, value *yaml.Node) {
	mapping.Content = append(mapping.Content, &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Value: key,
	}, value)
}

func yamlScalar(v any) *yaml.Node {
	node := &yaml.Node{Kind: yaml.ScalarNode}
	switch t := v.(type) {
	case bool:
		node.Tag = "!!bool"
		node.Value = strconv.FormatBool(t)
	case int64:
		node.Tag = "!!int"
		node.Value = strconv.FormatInt(t, 10)
	case float64:
		node.Tag = "!!float"
		node.Value = strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		node.Tag = "!!str"
		node.Value = t
	default:
		node.Tag = "!!str"
		node.Value = fmt.Sprint(t)
	}
	return node
}
