package hub

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestInvocationDescriptor_RoundTrip(t *testing.T) {
	tests := []InvocationDescriptor{
		{ID: "1", MethodName: "Echo"},
		{ID: "abc", MethodName: "Add", Arguments: []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2.5`)}},
		{ID: "", MethodName: "", Arguments: []json.RawMessage{json.RawMessage(`"text"`), json.RawMessage(`null`)}},
		{ID: "n", MethodName: "Nested", Arguments: []json.RawMessage{json.RawMessage(`{"a":[1,2,{"b":true}]}`)}},
	}

	for _, want := range tests {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal %+v: %v", want, err)
		}
		var got InvocationDescriptor
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if len(want.Arguments) == 0 {
			want.Arguments = nil
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", want, got)
		}
	}
}

func TestInvocationResultDescriptor_AlwaysCarriesResult(t *testing.T) {
	data, err := json.Marshal(InvocationResultDescriptor{ID: "1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"Id":"1","Result":null,"Error":null}`; string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		kind     envelopeKind
		id       string
		method   string
		args     int
		errText  string
		hasError bool
	}{
		{name: "invocation", text: `{"Id":"1","MethodName":"Add","Arguments":[1,2]}`, kind: envelopeInvocation, id: "1", method: "Add", args: 2},
		{name: "invocation without arguments", text: `{"Id":"2","MethodName":"Ping"}`, kind: envelopeInvocation, id: "2", method: "Ping"},
		{name: "null method name", text: `{"Id":"3","MethodName":null}`, kind: envelopeInvocation, id: "3"},
		{name: "result", text: `{"Id":"4","Result":{"x":1}}`, kind: envelopeResult, id: "4"},
		{name: "error result", text: `{"Id":"5","Result":null,"Error":"bad"}`, kind: envelopeResult, id: "5", errText: "bad", hasError: true},
		{name: "null error", text: `{"Id":"6","Error":null}`, kind: envelopeResult, id: "6"},
		{name: "plain text", text: `invalid message 1`, kind: envelopeInvalid},
		{name: "empty object", text: `{}`, kind: envelopeInvalid},
		{name: "id only", text: `{"Id":"7"}`, kind: envelopeInvalid, id: "7"},
		{name: "numeric method name", text: `{"Id":"8","MethodName":5}`, kind: envelopeInvalid, id: "8"},
		{name: "numeric id", text: `{"Id":9,"MethodName":"x"}`, kind: envelopeInvalid},
		{name: "bad arguments keep id", text: `{"Id":"10","MethodName":"x","Arguments":5}`, kind: envelopeInvalid, id: "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := decodeEnvelope(tt.text)

			if env.kind != tt.kind {
				t.Fatalf("expected kind %s, got %s", tt.kind, env.kind)
			}
			if env.id != tt.id {
				t.Errorf("expected id %q, got %q", tt.id, env.id)
			}
			if env.methodName != tt.method {
				t.Errorf("expected method %q, got %q", tt.method, env.methodName)
			}
			if len(env.arguments) != tt.args {
				t.Errorf("expected %d arguments, got %d", tt.args, len(env.arguments))
			}
			if (env.errText != nil) != tt.hasError {
				t.Fatalf("expected error presence %v, got %v", tt.hasError, env.errText != nil)
			}
			if tt.hasError && *env.errText != tt.errText {
				t.Errorf("expected error %q, got %q", tt.errText, *env.errText)
			}
		})
	}
}

func TestRenderArguments(t *testing.T) {
	tests := []struct {
		args []json.RawMessage
		want string
	}{
		{args: []json.RawMessage{json.RawMessage(`"some argument"`), json.RawMessage(`5`)}, want: "some argument, 5"},
		{args: []json.RawMessage{json.RawMessage(`null`), json.RawMessage(` true `)}, want: ", true"},
		{args: []json.RawMessage{json.RawMessage(`[1,2]`), json.RawMessage(`{"a":1}`)}, want: `[1,2], {"a":1}`},
	}

	for _, tt := range tests {
		if got := renderArguments(tt.args); got != tt.want {
			t.Errorf("renderArguments(%s) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestMessageType_String(t *testing.T) {
	if MessageTypeInvocationResult.String() != "invocation_result" {
		t.Errorf("unexpected name %q", MessageTypeInvocationResult.String())
	}
	data, _ := json.Marshal(Message{MessageType: MessageTypeConnectionEvent, Data: "id"})
	if want := `{"MessageType":2,"Data":"id"}`; string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}
