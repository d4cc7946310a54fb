package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/wisbric/graphgate/pkg/rewrite"
)

// filterTenantRows rewrites the upstream response so tenant listings only
// contain tenants the caller is a member of. Elements of a batched response
// line up 1:1 with the request batch; an element count mismatch is an error
// because rows could no longer be attributed to their operation.
func filterTenantRows(body []byte, ops []*rewrite.Operation, batched bool, memberships map[string]bool) ([]byte, error) {
	if !batched {
		var elem map[string]any
		if err := json.Unmarshal(body, &elem); err != nil {
			return nil, fmt.Errorf("decoding upstream response: %w", err)
		}
		filterElement(elem, ops[0].TenantFields, memberships)
		return json.Marshal(elem)
	}

	var elems []map[string]any
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, fmt.Errorf("decoding upstream batch response: %w", err)
	}
	if len(elems) != len(ops) {
		return nil, fmt.Errorf("upstream returned %d response elements for %d operations", len(elems), len(ops))
	}
	for i, elem := range elems {
		if len(ops[i].TenantFields) == 0 {
			continue
		}
		filterElement(elem, ops[i].TenantFields, memberships)
	}
	return json.Marshal(elems)
}

// filterElement drops foreign tenants from the flagged response keys of one
// GraphQL response object. List rows keep their order; a row without a
// usable id cannot be attributed to a tenant and is dropped. A single-object
// value becomes null when it is not the caller's.
func filterElement(elem map[string]any, keys []string, memberships map[string]bool) {
	data, ok := elem["data"].(map[string]any)
	if !ok {
		return
	}
	for _, key := range keys {
		switch rows := data[key].(type) {
		case []any:
			kept := make([]any, 0, len(rows))
			for _, row := range rows {
				if obj, ok := row.(map[string]any); ok {
					if id, ok := obj["id"].(string); ok && memberships[id] {
						kept = append(kept, row)
					}
				}
			}
			data[key] = kept
		case map[string]any:
			if id, ok := rows["id"].(string); !ok || !memberships[id] {
				data[key] = nil
			}
		}
	}
}
