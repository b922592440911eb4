package soap

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

// Field is one element of an Object.
type Field struct {
	Name  string
	Value any
}

// Object is an argument tree node whose children keep their order. XSD
// sequences are order sensitive, so prefer Object or JSON over plain maps
// when an element has more than one child.
type Object []Field

// JSON is an argument tree written as a JSON document. Object keys keep
// their document order.
type JSON string

// EncodeOperation encodes the body element of operation op. Elements directly
// under it default to the messages prefix, deeper ones to the types prefix.
func EncodeOperation(op string, args any) ([]byte, error) {
	if op == "" {
		return nil, fmt.Errorf("soap: operation name is required")
	}
	var buf bytes.Buffer
	e := &encoder{buf: &buf}
	if err := e.element(qualify(op, PrefixMessages), args, PrefixMessages); err != nil {
		return nil, fmt.Errorf("soap: encode %s: %w", op, err)
	}
	return buf.Bytes(), nil
}

// EncodeHeader encodes a header tree. Every element defaults to the types prefix.
func EncodeHeader(header any) ([]byte, error) {
	var buf bytes.Buffer
	e := &encoder{buf: &buf}
	fields, attrs, text, err := children(header)
	if err != nil {
		return nil, fmt.Errorf("soap: encode header: %w", err)
	}
	if len(attrs) > 0 || text != nil {
		return nil, fmt.Errorf("soap: encode header: header must be a tree of elements")
	}
	for _, f := range fields {
		if err := e.element(qualify(f.Name, PrefixTypes), f.Value, PrefixTypes); err != nil {
			return nil, fmt.Errorf("soap: encode header: %w", err)
		}
	}
	return buf.Bytes(), nil
}

type encoder struct {
	buf *bytes.Buffer
}

// element writes one element (or, for list values, one per item). childPrefix
// qualifies unprefixed child names.
func (e *encoder) element(name string, value any, childPrefix string) error {
	if items, ok := list(value); ok {
		for _, item := range items {
			if err := e.element(name, item, childPrefix); err != nil {
				return err
			}
		}
		return nil
	}

	if !isQName(name) {
		return fmt.Errorf("invalid element name %q", name)
	}
	fields, attrs, text, err := children(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, a := range attrs {
		if !isQName(a.Name) {
			return fmt.Errorf("%s: invalid attribute name %q", name, a.Name)
		}
	}

	e.buf.WriteByte('<')
	e.buf.WriteString(name)
	for _, a := range attrs {
		e.buf.WriteByte(' ')
		e.buf.WriteString(a.Name)
		e.buf.WriteString(`="`)
		_ = xml.EscapeText(e.buf, []byte(a.Value))
		e.buf.WriteByte('"')
	}
	if len(fields) == 0 && (text == nil || *text == "") {
		e.buf.WriteString("/>")
		return nil
	}
	e.buf.WriteByte('>')
	if text != nil {
		_ = xml.EscapeText(e.buf, []byte(*text))
	}
	for _, f := range fields {
		if err := e.element(qualify(f.Name, childPrefix), f.Value, PrefixTypes); err != nil {
			return err
		}
	}
	e.buf.WriteString("</")
	e.buf.WriteString(name)
	e.buf.WriteByte('>')
	return nil
}

type attr struct {
	Name  string
	Value string
}

// children splits a tree node into child elements, attributes and text.
func children(value any) (fields []Field, attrs []attr, text *string, err error) {
	switch v := value.(type) {
	case nil:
		return nil, nil, nil, nil
	case JSON:
		return children(gjson.Parse(string(v)))
	case json.RawMessage:
		return children(gjson.ParseBytes(v))
	case gjson.Result:
		return resultChildren(v)
	case Object:
		fields = make([]Field, 0, len(v))
		for _, f := range v {
			switch f.Name {
			case AttributesKey:
				if attrs, err = attributes(f.Value); err != nil {
					return nil, nil, nil, err
				}
			case ValueKey:
				s := scalar(f.Value)
				text = &s
			default:
				fields = append(fields, f)
			}
		}
		return fields, attrs, text, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		obj := make(Object, 0, len(keys))
		for _, k := range keys {
			obj = append(obj, Field{Name: k, Value: rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()})
		}
		return children(obj)
	}

	s := scalar(value)
	return nil, nil, &s, nil
}

func resultChildren(r gjson.Result) (fields []Field, attrs []attr, text *string, err error) {
	switch {
	case r.IsObject():
		var obj Object
		r.ForEach(func(key, value gjson.Result) bool {
			obj = append(obj, Field{Name: key.String(), Value: value})
			return true
		})
		return children(obj)
	case r.Type == gjson.Null:
		return nil, nil, nil, nil
	case r.IsArray():
		return nil, nil, nil, fmt.Errorf("nested arrays are not supported")
	default:
		s := r.String()
		return nil, nil, &s, nil
	}
}

// attributes flattens an attributes node into name/value pairs.
func attributes(value any) ([]attr, error) {
	fields, _, text, err := children(value)
	if err != nil {
		return nil, err
	}
	if text != nil && *text != "" {
		return nil, fmt.Errorf("%s must be an object", AttributesKey)
	}
	attrs := make([]attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, attr{Name: f.Name, Value: scalar(f.Value)})
	}
	return attrs, nil
}

// list reports whether value is a repeated element.
func list(value any) ([]any, bool) {
	switch v := value.(type) {
	case nil, []byte, Object:
		return nil, false
	case JSON:
		return list(gjson.Parse(string(v)))
	case json.RawMessage:
		return list(gjson.ParseBytes(v))
	case gjson.Result:
		if !v.IsArray() {
			return nil, false
		}
		var items []any
		for _, item := range v.Array() {
			items = append(items, item)
		}
		return items, true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case gjson.Result:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// isQName reports whether s is an XML name with at most one prefix.
func isQName(s string) bool {
	prefix, local, found := strings.Cut(s, ":")
	if !found {
		return isNCName(s)
	}
	return isNCName(prefix) && isNCName(local)
}

func isNCName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i == 0:
			return false
		case r == '-' || r == '.' || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r):
		default:
			return false
		}
	}
	return true
}

// qualify adds prefix to an unprefixed element name.
func qualify(name, prefix string) string {
	if strings.Contains(name, ":") {
		return name
	}
	return prefix + ":" + name
}
