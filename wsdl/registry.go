package wsdl

import (
	"encoding/xml"
	"fmt"
	"os"
	"slices"
	"strings"

	ews "github.com/smnsjas/go-ews"
)

// WSDL 1.1 namespaces.
const (
	NsWSDL     = "http://schemas.xmlsoap.org/wsdl/"
	NsWSDLSoap = "http://schemas.xmlsoap.org/wsdl/soap/"
)

// Shape is the message shape of one direction of an operation.
type Shape struct {
	// Message is the WSDL message name.
	Message string

	// Element is the body element.
	Element xml.Name

	// Headers are the header elements the binding declares.
	Headers []xml.Name
}

// Operation is one callable operation of the service port.
type Operation struct {
	Name       string
	SOAPAction string
	Input      Shape
	Output     Shape
}

// Registry is the immutable set of operations exposed by the service port.
type Registry struct {
	service  string
	port     string
	endpoint string
	ops      map[string]Operation
	names    []string
}

// Lookup returns the named operation.
func (r *Registry) Lookup(name string) (Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Has reports whether the port exposes the named operation.
func (r *Registry) Has(name string) bool {
	_, ok := r.ops[name]
	return ok
}

// Names returns the operation names in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Len returns the number of operations.
func (r *Registry) Len() int { return len(r.names) }

// Endpoint returns the address of the port.
func (r *Registry) Endpoint() string { return r.endpoint }

// Service returns the service and port names the registry was built from.
func (r *Registry) Service() (service, port string) { return r.service, r.port }

type qnameAttr struct {
	Message string `xml:"message,attr"`
}

type definitions struct {
	XMLName         xml.Name   `xml:"http://schemas.xmlsoap.org/wsdl/ definitions"`
	TargetNamespace string     `xml:"targetNamespace,attr"`
	Attrs           []xml.Attr `xml:",any,attr"`

	Messages []struct {
		Name  string `xml:"name,attr"`
		Parts []struct {
			Name    string `xml:"name,attr"`
			Element string `xml:"element,attr"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/ part"`
	} `xml:"http://schemas.xmlsoap.org/wsdl/ message"`

	PortTypes []struct {
		Name       string `xml:"name,attr"`
		Operations []struct {
			Name   string    `xml:"name,attr"`
			Input  qnameAttr `xml:"http://schemas.xmlsoap.org/wsdl/ input"`
			Output qnameAttr `xml:"http://schemas.xmlsoap.org/wsdl/ output"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/ operation"`
	} `xml:"http://schemas.xmlsoap.org/wsdl/ portType"`

	Bindings []struct {
		Name       string `xml:"name,attr"`
		Type       string `xml:"type,attr"`
		Operations []struct {
			Name string `xml:"name,attr"`
			SOAP struct {
				Action string `xml:"soapAction,attr"`
			} `xml:"http://schemas.xmlsoap.org/wsdl/soap/ operation"`
			Input  bindingIO `xml:"http://schemas.xmlsoap.org/wsdl/ input"`
			Output bindingIO `xml:"http://schemas.xmlsoap.org/wsdl/ output"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/ operation"`
	} `xml:"http://schemas.xmlsoap.org/wsdl/ binding"`

	Services []struct {
		Name  string `xml:"name,attr"`
		Ports []struct {
			Name    string `xml:"name,attr"`
			Binding string `xml:"binding,attr"`
			Address struct {
				Location string `xml:"location,attr"`
			} `xml:"http://schemas.xmlsoap.org/wsdl/soap/ address"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/ port"`
	} `xml:"http://schemas.xmlsoap.org/wsdl/ service"`
}

type bindingIO struct {
	Headers []struct {
		Message string `xml:"message,attr"`
		Part    string `xml:"part,attr"`
	} `xml:"http://schemas.xmlsoap.org/wsdl/soap/ header"`
	Body struct {
		Parts string `xml:"parts,attr"`
	} `xml:"http://schemas.xmlsoap.org/wsdl/soap/ body"`
}

// ParseRegistry reads the service document at path and returns the
// operations of the ExchangeServicePort port of the ExchangeServices service.
func ParseRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ews.E(ews.KindFileSystem, "wsdl: read registry", err)
	}
	return ParseRegistryBytes(data)
}

// ParseRegistryBytes is ParseRegistry on an in-memory document.
func ParseRegistryBytes(data []byte) (*Registry, error) {
	const op = "wsdl: parse registry"

	var defs definitions
	if err := xml.Unmarshal(data, &defs); err != nil {
		return nil, ews.E(ews.KindMalformedWSDL, op, err)
	}
	prefixes := map[string]string{}
	for _, a := range defs.Attrs {
		if a.Name.Space == "xmlns" {
			prefixes[a.Name.Local] = a.Value
		}
	}
	resolve := func(qname string) xml.Name {
		prefix, local, ok := strings.Cut(qname, ":")
		if !ok {
			return xml.Name{Space: defs.TargetNamespace, Local: qname}
		}
		return xml.Name{Space: prefixes[prefix], Local: local}
	}

	svc := -1
	for i, s := range defs.Services {
		if s.Name == ServiceName {
			svc = i
			break
		}
	}
	if svc < 0 {
		return nil, ews.Errorf(ews.KindMalformedWSDL, op, "service "+ServiceName+" not defined")
	}

	reg := &Registry{service: ServiceName, ops: map[string]Operation{}}
	var bindingName string
	for _, p := range defs.Services[svc].Ports {
		if p.Name == PortName {
			reg.port = p.Name
			reg.endpoint = p.Address.Location
			bindingName = resolve(p.Binding).Local
			break
		}
	}
	if reg.port == "" {
		return nil, ews.Errorf(ews.KindMalformedWSDL, op, "port "+PortName+" not defined")
	}

	bi := -1
	for i, b := range defs.Bindings {
		if b.Name == bindingName {
			bi = i
			break
		}
	}
	if bi < 0 {
		return nil, ews.Errorf(ews.KindMalformedWSDL, op, "binding "+bindingName+" not defined")
	}
	binding := defs.Bindings[bi]

	// message name -> part name -> element
	parts := map[string]map[string]xml.Name{}
	firstPart := map[string]xml.Name{}
	for _, m := range defs.Messages {
		parts[m.Name] = map[string]xml.Name{}
		for i, p := range m.Parts {
			el := resolve(p.Element)
			parts[m.Name][p.Name] = el
			if i == 0 {
				firstPart[m.Name] = el
			}
		}
	}

	type ioMessages struct{ in, out string }
	abstract := map[string]ioMessages{}
	portType := resolve(binding.Type).Local
	for _, pt := range defs.PortTypes {
		if pt.Name != portType {
			continue
		}
		for _, o := range pt.Operations {
			abstract[o.Name] = ioMessages{
				in:  resolve(o.Input.Message).Local,
				out: resolve(o.Output.Message).Local,
			}
		}
	}

	shape := func(msg string, io bindingIO) Shape {
		s := Shape{Message: msg, Element: firstPart[msg]}
		if name := strings.TrimSpace(io.Body.Parts); name != "" {
			if el, ok := parts[msg][name]; ok {
				s.Element = el
			}
		}
		for _, h := range io.Headers {
			if el, ok := parts[resolve(h.Message).Local][h.Part]; ok {
				s.Headers = append(s.Headers, el)
			}
		}
		return s
	}

	for _, o := range binding.Operations {
		msgs, ok := abstract[o.Name]
		if !ok {
			return nil, ews.Errorf(ews.KindMalformedWSDL, op,
				fmt.Sprintf("operation %s missing from port type %s", o.Name, portType))
		}
		reg.ops[o.Name] = Operation{
			Name:       o.Name,
			SOAPAction: o.SOAP.Action,
			Input:      shape(msgs.in, o.Input),
			Output:     shape(msgs.out, o.Output),
		}
		reg.names = append(reg.names, o.Name)
	}
	slices.Sort(reg.names)
	reg.names = slices.Compact(reg.names)
	return reg, nil
}
