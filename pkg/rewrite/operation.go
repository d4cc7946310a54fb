package rewrite

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Operation is one GraphQL operation envelope as posted by a client. The
// rewriter mutates Query and Variables in place; TenantFields is populated
// for tenant-listing selections so the proxy knows which response keys to
// filter.
type Operation struct {
	Query         string
	OperationName string
	Variables     map[string]any

	// TenantFields holds the response keys (alias if present, otherwise the
	// field name) of tenant selections found during rewriting. It never goes
	// over the wire.
	TenantFields []string
}

// UnmarshalJSON decodes a client operation. Some clients double-encode
// variables as a JSON string; both forms are accepted.
func (op *Operation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Query         string          `json:"query"`
		OperationName string          `json:"operationName"`
		Variables     json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	op.Query = raw.Query
	op.OperationName = raw.OperationName
	op.Variables = nil

	if len(raw.Variables) == 0 || bytes.Equal(raw.Variables, []byte("null")) {
		return nil
	}
	payload := raw.Variables
	var encoded string
	if err := json.Unmarshal(payload, &encoded); err == nil {
		payload = []byte(encoded)
	}
	if err := json.Unmarshal(payload, &op.Variables); err != nil {
		return fmt.Errorf("decoding variables: %w", err)
	}
	return nil
}

// MarshalJSON encodes the operation for forwarding. Variables are always
// emitted as a JSON object, even when the client double-encoded them.
func (op Operation) MarshalJSON() ([]byte, error) {
	out := map[string]any{"query": op.Query}
	if op.OperationName != "" {
		out["operationName"] = op.OperationName
	}
	if op.Variables != nil {
		out["variables"] = op.Variables
	}
	return json.Marshal(out)
}

// setVariable stores a value in the operation's variables, creating the map
// when the document declared none.
func (op *Operation) setVariable(name string, value any) {
	if op.Variables == nil {
		op.Variables = map[string]any{}
	}
	op.Variables[name] = value
}
