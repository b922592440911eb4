// Package soap encodes EWS requests and decodes EWS responses.
//
// Requests are built from argument trees. A tree node is a map with string
// keys, an Object (ordered fields), a JSON document, or a scalar. Two keys
// are reserved:
//
//   - "attributes": the element's XML attributes
//   - "$value": the element's text
//
// Slices produce repeated elements. Element names without a prefix are
// qualified with m: directly under the operation element and t: below it.
//
//	body, err := soap.Request("GetFolder", soap.JSON(`{
//	    "FolderShape": {"BaseShape": "Default"},
//	    "FolderIds": {"DistinguishedFolderId": {"attributes": {"Id": "inbox"}}}
//	}`), nil)
//
// Responses decode into a Tree using the same conventions with namespace
// prefixes removed.
package soap
