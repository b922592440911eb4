package soap

// XML namespace URIs used in EWS envelopes.
const (
	// NsSoap is the SOAP 1.1 envelope namespace.
	NsSoap = "http://schemas.xmlsoap.org/soap/envelope/"

	// NsMessages is the EWS messages namespace, bound to prefix m.
	NsMessages = "http://schemas.microsoft.com/exchange/services/2006/messages"

	// NsTypes is the EWS types namespace, bound to prefix t.
	NsTypes = "http://schemas.microsoft.com/exchange/services/2006/types"

	// NsErrors is the namespace of EWS fault details.
	NsErrors = "http://schemas.microsoft.com/exchange/services/2006/errors"
)

// Prefixes bound in every envelope.
const (
	PrefixSoap     = "soap"
	PrefixMessages = "m"
	PrefixTypes    = "t"
)

// Reserved keys of argument and result trees.
const (
	// AttributesKey holds the XML attributes of an element.
	AttributesKey = "attributes"

	// ValueKey holds the text of an element that also has attributes or children.
	ValueKey = "$value"
)
