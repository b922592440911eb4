package wsdl

import (
	"bytes"
	"encoding/xml"
	"os"
	"strings"

	"github.com/moby/sys/atomicwriter"

	ews "github.com/smnsjas/go-ews"
)

// Names of the service definition inserted by Repair.
const (
	ServiceName = "ExchangeServices"
	PortName    = "ExchangeServicePort"
	BindingName = "ExchangeServiceBinding"
)

var (
	definitionsMarker = []byte("<wsdl:definitions")
	definitionsEnd    = []byte("</wsdl:definitions>")
	serviceMarker     = []byte(`<wsdl:service name="` + ServiceName + `">`)
)

// ServiceBlock returns the service definition pointing at endpoint.
func ServiceBlock(endpoint string) string {
	var loc bytes.Buffer
	_ = xml.EscapeText(&loc, []byte(endpoint))

	var b strings.Builder
	b.WriteString(`<wsdl:service name="` + ServiceName + `">`)
	b.WriteString(`<wsdl:port name="` + PortName + `" binding="tns:` + BindingName + `">`)
	b.WriteString(`<soap:address location="` + loc.String() + `"/>`)
	b.WriteString(`</wsdl:port></wsdl:service>`)
	return b.String()
}

// Repair inserts the service definition into the document at path, which
// the published EWS document lacks. It reports whether the file changed.
//
// A document without a wsdl:definitions element is left untouched and
// reported as malformed. A document that already carries the service
// definition is left untouched, so repeated repairs are byte-identical.
func Repair(path, endpoint string) (bool, error) {
	const op = "wsdl: repair"

	data, err := os.ReadFile(path)
	if err != nil {
		return false, ews.E(ews.KindFileSystem, op, err)
	}
	if !bytes.Contains(data, definitionsMarker) {
		return false, ews.Errorf(ews.KindMalformedWSDL, op, "invalid or malformed wsdl file: "+path)
	}
	if bytes.Contains(data, serviceMarker) {
		return false, nil
	}
	end := bytes.LastIndex(data, definitionsEnd)
	if end < 0 {
		return false, ews.Errorf(ews.KindMalformedWSDL, op, "wsdl:definitions is not closed in "+path)
	}

	block := ServiceBlock(endpoint)
	out := make([]byte, 0, len(data)+len(block)+2)
	out = append(out, data[:end]...)
	out = append(out, '\n')
	out = append(out, block...)
	out = append(out, '\n')
	out = append(out, data[end:]...)

	perm := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	if err := atomicwriter.WriteFile(path, out, perm); err != nil {
		return false, ews.E(ews.KindFileSystem, op, err)
	}
	return true, nil
}
