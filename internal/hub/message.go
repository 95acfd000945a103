package hub

import (
	"encoding/json"
	"strings"
)

type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeClientMethodInvocation
	MessageTypeConnectionEvent
	MessageTypeError
	MessageTypeInvocationResult
)

func (mt MessageType) String() string {
	switch mt {
	case MessageTypeText:
		return "text"
	case MessageTypeClientMethodInvocation:
		return "client_method_invocation"
	case MessageTypeConnectionEvent:
		return "connection_event"
	case MessageTypeError:
		return "error"
	case MessageTypeInvocationResult:
		return "invocation_result"
	default:
		return "unknown"
	}
}

// Message is the outer envelope every server-originated frame is wrapped in.
type Message struct {
	MessageType MessageType `json:"MessageType"`
	Data        string      `json:"Data"`
}

type InvocationDescriptor struct {
	ID         string            `json:"Id"`
	MethodName string            `json:"MethodName"`
	Arguments  []json.RawMessage `json:"Arguments"`
}

// InvocationResultDescriptor answers an InvocationDescriptor with the same ID.
// Result is always serialized, as null when the method returned nothing.
type InvocationResultDescriptor struct {
	ID     string          `json:"Id"`
	Result json.RawMessage `json:"Result"`
	Error  *string         `json:"Error"`
}

type envelopeKind int

const (
	envelopeInvalid envelopeKind = iota
	envelopeInvocation
	envelopeResult
)

// probe records which envelope fields are present. A RawMessage field is
// left empty when its key is absent and holds "null" when the value is null.
type probe struct {
	ID         json.RawMessage   `json:"Id"`
	MethodName json.RawMessage   `json:"MethodName"`
	Arguments  []json.RawMessage `json:"Arguments"`
	Result     json.RawMessage   `json:"Result"`
	Error      json.RawMessage   `json:"Error"`
}

func (k envelopeKind) String() string {
	switch k {
	case envelopeInvocation:
		return "invocation"
	case envelopeResult:
		return "result"
	default:
		return "invalid"
	}
}

type envelope struct {
	kind       envelopeKind
	id         string
	methodName string
	arguments  []json.RawMessage
	result     json.RawMessage
	errText    *string
}

func decodeEnvelope(text string) envelope {
	var p probe
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return envelope{kind: envelopeInvalid, id: bestEffortID(text)}
	}

	id, idOK := decodeOptionalString(p.ID)
	if len(p.ID) == 0 || !idOK {
		return envelope{kind: envelopeInvalid}
	}

	if len(p.MethodName) > 0 {
		name, ok := decodeOptionalString(p.MethodName)
		if !ok {
			return envelope{kind: envelopeInvalid, id: id}
		}
		return envelope{
			kind:       envelopeInvocation,
			id:         id,
			methodName: name,
			arguments:  p.Arguments,
		}
	}

	if len(p.Result) > 0 || len(p.Error) > 0 {
		env := envelope{kind: envelopeResult, id: id, result: p.Result}
		if msg, ok := decodeOptionalString(p.Error); ok && len(p.Error) > 0 && string(p.Error) != "null" {
			env.errText = &msg
		}
		return env
	}

	return envelope{kind: envelopeInvalid, id: id}
}

// decodeOptionalString accepts a JSON string or null.
func decodeOptionalString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func bestEffortID(text string) string {
	var partial struct {
		ID json.RawMessage `json:"Id"`
	}
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&partial); err != nil {
		return ""
	}
	id, _ := decodeOptionalString(partial.ID)
	return id
}
