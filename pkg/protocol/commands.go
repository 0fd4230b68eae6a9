// Package protocol implements the low-level BaseX server protocol: opcodes,
// the 0x00/0xFF escape scheme, NUL-terminated framing and the auth digests.
package protocol

// Opcode identifies a client request on the control socket. Plain database
// commands are sent without an opcode; everything else is one of these.
type Opcode byte

const (
	OpQuery    Opcode = 0x00 // create a query object
	OpClose    Opcode = 0x02 // close a query object
	OpBind     Opcode = 0x03 // bind an external query variable
	OpResults  Opcode = 0x04 // iterate query results item by item
	OpExecute  Opcode = 0x05 // execute a query, single result string
	OpInfo     Opcode = 0x06 // query compilation/evaluation info
	OpOptions  Opcode = 0x07 // query serialization options
	OpCreate   Opcode = 0x08 // create a database from an input stream
	OpAdd      Opcode = 0x09 // add a document to the open database
	OpWatch    Opcode = 0x0A // watch a database for events
	OpUnwatch  Opcode = 0x0B // stop watching a database
	OpReplace  Opcode = 0x0C // replace a document in the open database
	OpStore    Opcode = 0x0D // store a raw (binary) resource
	OpContext  Opcode = 0x0E // bind the query context item
	OpUpdating Opcode = 0x1E // ask whether a query contains updates
	OpFull     Opcode = 0x1F // iterate results with database pre values
)

func (o Opcode) String() string {
	switch o {
	case OpQuery:
		return "QUERY"
	case OpClose:
		return "CLOSE"
	case OpBind:
		return "BIND"
	case OpResults:
		return "RESULTS"
	case OpExecute:
		return "EXECUTE"
	case OpInfo:
		return "INFO"
	case OpOptions:
		return "OPTIONS"
	case OpCreate:
		return "CREATE"
	case OpAdd:
		return "ADD"
	case OpWatch:
		return "WATCH"
	case OpUnwatch:
		return "UNWATCH"
	case OpReplace:
		return "REPLACE"
	case OpStore:
		return "STORE"
	case OpContext:
		return "CONTEXT"
	case OpUpdating:
		return "UPDATING"
	case OpFull:
		return "FULL"
	}
	return "UNKNOWN"
}

// StatusOK is the single byte the server sends after a successful request.
// Any other value indicates failure and is followed by (or preceded by,
// depending on the request) an error description.
const StatusOK byte = 0x00

// ItemType is the XDM type id sent before every item during RESULTS/FULL
// iteration. The zero value terminates the item stream.
type ItemType byte

const (
	TypeFunction       ItemType = 7
	TypeNode           ItemType = 8
	TypeText           ItemType = 9
	TypePI             ItemType = 10
	TypeElement        ItemType = 11
	TypeDocument       ItemType = 12
	TypeDocumentElem   ItemType = 13
	TypeAttribute      ItemType = 14
	TypeComment        ItemType = 15
	TypeItem           ItemType = 32
	TypeUntypedAtomic  ItemType = 37
	TypeString         ItemType = 38
	TypeFloat          ItemType = 50
	TypeDouble         ItemType = 51
	TypeDecimal        ItemType = 52
	TypeInteger        ItemType = 56
	TypeBoolean        ItemType = 77
	TypeBase64Binary   ItemType = 78
	TypeHexBinary      ItemType = 79
	TypeAnyURI         ItemType = 80
	TypeQName          ItemType = 81
	TypeDate           ItemType = 69
	TypeDateTime       ItemType = 71
	TypeTime           ItemType = 70
	TypeDuration       ItemType = 66
)

var itemTypeNames = map[ItemType]string{
	TypeFunction:      "function item",
	TypeNode:          "node()",
	TypeText:          "text()",
	TypePI:            "processing-instruction()",
	TypeElement:       "element()",
	TypeDocument:      "document-node()",
	TypeDocumentElem:  "document-node(element())",
	TypeAttribute:     "attribute()",
	TypeComment:       "comment()",
	TypeItem:          "item()",
	TypeUntypedAtomic: "xs:untypedAtomic",
	TypeString:        "xs:string",
	TypeFloat:         "xs:float",
	TypeDouble:        "xs:double",
	TypeDecimal:       "xs:decimal",
	TypeInteger:       "xs:integer",
	TypeBoolean:       "xs:boolean",
	TypeBase64Binary:  "xs:base64Binary",
	TypeHexBinary:     "xs:hexBinary",
	TypeAnyURI:        "xs:anyURI",
	TypeQName:         "xs:QName",
	TypeDate:          "xs:date",
	TypeDateTime:      "xs:dateTime",
	TypeTime:          "xs:time",
	TypeDuration:      "xs:duration",
}

func (t ItemType) String() string {
	if name, ok := itemTypeNames[t]; ok {
		return name
	}
	return "item()" // unmapped ids are still valid XDM items
}
