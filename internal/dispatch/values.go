package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

// Value is the (name, value) pair extracted from a values string.
type Value struct {
	Name  string
	Value string
}

// ValueDecoder extracts the first reading from a message's values string,
// e.g. {'values':[{'name':'temp', 'type':'float', 'value':'21.5'}]}.
type ValueDecoder interface {
	Decode(values string) (Value, error)
}

// SchemaDecoder strictly decodes the values string as a flow mapping with
// a single "values" list of {name, type, value} objects. Both JSON and
// single-quoted forms are accepted; unknown keys are rejected.
type SchemaDecoder struct{}

type valuesDoc struct {
	Values []valueEntry `yaml:"values"`
}

type valueEntry struct {
	Name  string    `yaml:"name"`
	Type  string    `yaml:"type"`
	Value yaml.Node `yaml:"value"`
}

// Decode returns the first entry of the values list.
func (SchemaDecoder) Decode(values string) (Value, error) {
	if !strings.HasPrefix(strings.TrimSpace(values), "{") {
		return Value{}, errors.New("values is not a mapping")
	}

	dec := yaml.NewDecoder(strings.NewReader(values))
	dec.KnownFields(true)
	var doc valuesDoc
	if err := dec.Decode(&doc); err != nil {
		return Value{}, fmt.Errorf("decode values: %w", err)
	}
	if len(doc.Values) == 0 {
		return Value{}, errors.New("values list is empty")
	}

	first := doc.Values[0]
	text, err := nodeText(&first.Value)
	if err != nil {
		return Value{}, err
	}
	return Value{Name: first.Name, Value: text}, nil
}

// nodeText returns a scalar's text as written; collections are rendered as
// JSON.
func nodeText(n *yaml.Node) (string, error) {
	if n.Kind == 0 {
		return "", errors.New("values entry has no value")
	}
	if n.Kind == yaml.ScalarNode {
		return n.Value, nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return "", fmt.Errorf("decode value: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("render value: %w", err)
	}
	return string(data), nil
}

// TagScanner is the legacy extractor for values strings whose value is
// itself a quoted structure, which breaks structural parsing:
//
//	{'values':[{'name':'LEDPanel-Top', 'type':'str', 'value':'{'400-449': 0.0}'}]}
//
// The value is the text between 'value':' and the closing }]} minus the
// final quote; the name is the text after 'name':' up to the next quote.
// A string with neither tag is returned whole as the value.
type TagScanner struct{}

const (
	valueTag = "'value':'"
	nameTag  = "'name':'"
	endTag   = "}]}"
)

// Decode never fails.
func (TagScanner) Decode(values string) (Value, error) {
	return Value{Name: scanName(values), Value: scanValue(values)}, nil
}

func scanValue(s string) string {
	start := strings.Index(s, valueTag)
	end := strings.Index(s, endTag)
	if start == -1 || end == -1 {
		return s
	}
	start += len(valueTag)
	end--
	if end < start {
		return ""
	}
	return s[start:end]
}

func scanName(s string) string {
	start := strings.Index(s, nameTag)
	if start == -1 {
		return ""
	}
	start += len(nameTag)
	end := strings.IndexByte(s[start:], '\'')
	if end == -1 {
		return ""
	}
	return s[start : start+end]
}

// FallbackDecoder tries Primary and, when it fails, Legacy. A nil Legacy
// makes Primary's error final.
type FallbackDecoder struct {
	Primary ValueDecoder
	Legacy  ValueDecoder
}

// DefaultDecoder is the schema decoder backed by the tag scanner.
func DefaultDecoder() FallbackDecoder {
	return FallbackDecoder{Primary: SchemaDecoder{}, Legacy: TagScanner{}}
}

func (d FallbackDecoder) Decode(values string) (Value, error) {
	v, err := d.Primary.Decode(values)
	if err == nil {
		return v, nil
	}
	if d.Legacy == nil {
		return Value{}, err
	}
	slog.Debug("values fell back to tag scan", "error", err)
	return d.Legacy.Decode(values)
}
