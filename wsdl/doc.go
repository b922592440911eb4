// Package wsdl acquires the EWS service description and turns it into an
// operation registry.
//
// The published services.wsdl has no wsdl:service element, so it cannot be
// bound to an endpoint as downloaded. Bootstrap fetches services.wsdl,
// messages.xsd and types.xsd into a cache directory and Repair inserts the
// ExchangeServices service pointing at {host}/EWS/Exchange.asmx. The
// repaired document is then read by ParseRegistry.
package wsdl
