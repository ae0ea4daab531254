package mcp

import (
	"encoding/json"
	"testing"
)

func TestNewRequestGeneratesUniqueIDs(t *testing.T) {
	a := NewRequest("tools/list", nil)
	b := NewRequest("tools/list", nil)
	if a.ID == "" || b.ID == "" {
		t.Fatal("request id empty")
	}
	if a.ID == b.ID {
		t.Errorf("ids not unique: %q", a.ID)
	}
	if a.JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q", a.JSONRPC)
	}
}

func TestRequestMarshalOmitsNilParams(t *testing.T) {
	data, err := json.Marshal(NewRequest("ping", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["params"]; ok {
		t.Errorf("params present in %s", data)
	}
}

func TestResponseDecodesStringAndNumberIDs(t *testing.T) {
	for _, raw := range []string{
		`{"jsonrpc":"2.0","id":"abc","result":{}}`,
		`{"jsonrpc":"2.0","id":7,"result":{}}`,
	} {
		var resp Response
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			t.Errorf("decode %s: %v", raw, err)
		}
	}
}

func TestRPCErrorMessage(t *testing.T) {
	err := &RPCError{Code: -32601, Message: "method not found"}
	want := "jsonrpc error -32601: method not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNotificationHasNoID(t *testing.T) {
	data, err := json.Marshal(NewNotification("notifications/initialized", map[string]any{}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["id"]; ok {
		t.Errorf("notification carries an id: %s", data)
	}
}
