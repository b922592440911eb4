package soap

import (
	"encoding/xml"
)

// ContentType is the media type of SOAP 1.1 requests.
const ContentType = "text/xml; charset=utf-8"

// Envelope represents a SOAP 1.1 envelope for EWS messages.
type Envelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`

	// Namespace declarations
	NsSoap     string `xml:"xmlns:soap,attr"`
	NsMessages string `xml:"xmlns:m,attr"`
	NsTypes    string `xml:"xmlns:t,attr"`

	Header *Header `xml:"soap:Header,omitempty"`
	Body   *Body   `xml:"soap:Body"`
}

// Header represents the SOAP header. Its content is pre-encoded XML.
type Header struct {
	Content []byte `xml:",innerxml"`
}

// Body represents the SOAP body.
type Body struct {
	Content []byte `xml:",innerxml"`
}

// NewEnvelope creates a new SOAP envelope with required namespace declarations.
func NewEnvelope() *Envelope {
	return &Envelope{
		NsSoap:     NsSoap,
		NsMessages: NsMessages,
		NsTypes:    NsTypes,
		Body:       &Body{},
	}
}

// WithHeader sets the SOAP header content. Empty content omits the header.
func (e *Envelope) WithHeader(content []byte) *Envelope {
	if len(content) == 0 {
		e.Header = nil
		return e
	}
	e.Header = &Header{Content: content}
	return e
}

// WithBody sets the SOAP body content.
func (e *Envelope) WithBody(content []byte) *Envelope {
	e.Body.Content = content
	return e
}

// Marshal serializes the envelope to XML, including the XML declaration.
func (e *Envelope) Marshal() ([]byte, error) {
	out, err := xml.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// Request builds the envelope for operation op. args and header are argument
// trees; header may be nil.
func Request(op string, args, header any) ([]byte, error) {
	body, err := EncodeOperation(op, args)
	if err != nil {
		return nil, err
	}
	env := NewEnvelope().WithBody(body)
	if header != nil {
		h, err := EncodeHeader(header)
		if err != nil {
			return nil, err
		}
		env.WithHeader(h)
	}
	return env.Marshal()
}
