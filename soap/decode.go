package soap

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Tree is a decoded XML element: child elements keyed by local name,
// attributes under AttributesKey and text under ValueKey. Elements with
// neither attributes nor children decode to their text; repeated elements
// decode to []any. A child element named like AttributesKey is keyed by its
// qualified name ("t:attributes", or "m:attributes" in the messages
// namespace) so it never merges into the attribute map; the encoder writes
// such a key back as an element.
type Tree map[string]any

// JSON returns the tree as a JSON document.
func (t Tree) JSON() ([]byte, error) {
	return json.Marshal(t)
}

// Get queries the tree with a gjson path, e.g.
// "ResponseMessages.GetFolderResponseMessage.attributes.ResponseClass".
func (t Tree) Get(path string) gjson.Result {
	data, err := t.JSON()
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(data, path)
}

var envelopeStart = regexp.MustCompile(`(?i)<([A-Za-z_][\w.-]*):Envelope[\s>/]`)

// TrimEnvelope strips bytes before the XML declaration or envelope start tag
// and after the envelope end tag. Data without a prefixed envelope is
// returned unchanged.
func TrimEnvelope(data []byte) []byte {
	loc := envelopeStart.FindSubmatchIndex(data)
	if loc == nil {
		return data
	}
	prefix := string(data[loc[2]:loc[3]])
	start := loc[0]
	if decl := bytes.LastIndex(data[:start], []byte("<?")); decl >= 0 {
		if end := bytes.Index(data[decl:start], []byte("?>")); end >= 0 &&
			len(bytes.TrimSpace(data[decl+end+2:start])) == 0 {
			start = decl
		}
	}

	closing := "</" + strings.ToLower(prefix) + ":envelope>"
	lower := bytes.ToLower(data)
	end := bytes.LastIndex(lower, []byte(closing))
	if end < start {
		return data
	}
	return data[start : end+len(closing)]
}

// ParseResponse decodes a SOAP response and returns the tree of the first
// element in the body. A fault in the body is returned as *Fault.
func ParseResponse(data []byte) (Tree, error) {
	name, tree, err := bodyElement(TrimEnvelope(data))
	if err != nil {
		return nil, err
	}
	if name.Local == "Fault" && (name.Space == NsSoap || name.Space == "") {
		return nil, faultFromTree(tree)
	}
	return tree, nil
}

// ParseRequest decodes a SOAP request into the operation name and its
// argument tree, the inverse of Request. Namespace declarations are dropped.
func ParseRequest(data []byte) (string, Tree, error) {
	name, tree, err := bodyElement(TrimEnvelope(data))
	if err != nil {
		return "", nil, err
	}
	return name.Local, tree, nil
}

// Decode decodes a standalone XML element into a tree.
func Decode(data []byte) (Tree, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, fmt.Errorf("soap: decode: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			v, err := decodeElement(d, se)
			if err != nil {
				return nil, fmt.Errorf("soap: decode: %w", err)
			}
			return asTree(v), nil
		}
	}
}

// bodyElement finds Envelope/Body and decodes its first child element.
func bodyElement(data []byte) (xml.Name, Tree, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	depth := 0
	inBody := false
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return xml.Name{}, nil, errors.New("soap: response has no body element")
		}
		if err != nil {
			return xml.Name{}, nil, fmt.Errorf("soap: parse response: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 1 && t.Name.Local != "Envelope":
				return xml.Name{}, nil, fmt.Errorf("soap: unexpected root element %q", t.Name.Local)
			case depth == 2 && t.Name.Local == "Body":
				inBody = true
			case depth == 2:
				if err := d.Skip(); err != nil {
					return xml.Name{}, nil, fmt.Errorf("soap: parse response: %w", err)
				}
				depth--
			case depth == 3 && inBody:
				v, err := decodeElement(d, t)
				if err != nil {
					return xml.Name{}, nil, fmt.Errorf("soap: parse response: %w", err)
				}
				return t.Name, asTree(v), nil
			}
		case xml.EndElement:
			if inBody && depth == 2 {
				return xml.Name{}, Tree{}, errors.New("soap: response body is empty")
			}
			depth--
		}
	}
}

// decodeElement decodes the element opened by start.
func decodeElement(d *xml.Decoder, start xml.StartElement) (any, error) {
	node := Tree{}
	attrs := map[string]any{}
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		attrs[a.Name.Local] = a.Value
	}
	if len(attrs) > 0 {
		node[AttributesKey] = attrs
	}

	var text strings.Builder
	hasChildren := false
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			hasChildren = true
			child, err := decodeElement(d, t)
			if err != nil {
				return nil, err
			}
			addChild(node, childKey(t.Name), child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			s := strings.TrimSpace(text.String())
			if !hasChildren && len(attrs) == 0 {
				return s, nil
			}
			if s != "" {
				node[ValueKey] = s
			}
			return node, nil
		}
	}
}

// childKey returns the tree key of a child element. ValueKey is not a valid
// XML name, so only AttributesKey can collide.
func childKey(name xml.Name) string {
	if name.Local != AttributesKey {
		return name.Local
	}
	if name.Space == NsMessages {
		return PrefixMessages + ":" + name.Local
	}
	return PrefixTypes + ":" + name.Local
}

func addChild(node Tree, name string, child any) {
	existing, ok := node[name]
	if !ok {
		node[name] = child
		return
	}
	if items, ok := existing.([]any); ok {
		node[name] = append(items, child)
		return
	}
	node[name] = []any{existing, child}
}

func asTree(v any) Tree {
	switch t := v.(type) {
	case Tree:
		return t
	case string:
		if t == "" {
			return Tree{}
		}
		return Tree{ValueKey: t}
	default:
		return Tree{}
	}
}
