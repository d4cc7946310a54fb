package proxy

import (
	"strings"
	"testing"

	"github.com/wisbric/graphgate/pkg/rewrite"
)

func TestFilterTenantRows(t *testing.T) {
	memberships := map[string]bool{"t1": true, "t2": true}

	tests := []struct {
		name   string
		body   string
		fields []string
		want   string
	}{
		{
			name:   "keeps members and order",
			body:   `{"data":{"tenant":[{"id":"t2"},{"id":"t9"},{"id":"t1"}]}}`,
			fields: []string{"tenant"},
			want:   `{"data":{"tenant":[{"id":"t2"},{"id":"t1"}]}}`,
		},
		{
			name:   "drops rows without a string id",
			body:   `{"data":{"tenant":[{"id":42},{"slug":"x"},{"id":"t1"}]}}`,
			fields: []string{"tenant"},
			want:   `{"data":{"tenant":[{"id":"t1"}]}}`,
		},
		{
			name:   "empties a fully foreign listing",
			body:   `{"data":{"tenant":[{"id":"t9"}]}}`,
			fields: []string{"tenant"},
			want:   `{"data":{"tenant":[]}}`,
		},
		{
			name:   "nulls a foreign single object",
			body:   `{"data":{"tenant":{"id":"t9"}}}`,
			fields: []string{"tenant"},
			want:   `{"data":{"tenant":null}}`,
		},
		{
			name:   "keeps a member single object",
			body:   `{"data":{"tenant":{"id":"t1"}}}`,
			fields: []string{"tenant"},
			want:   `{"data":{"tenant":{"id":"t1"}}}`,
		},
		{
			name:   "filters aliased keys only",
			body:   `{"data":{"mine":[{"id":"t9"}],"other":[{"id":"t9"}]}}`,
			fields: []string{"mine"},
			want:   `{"data":{"mine":[],"other":[{"id":"t9"}]}}`,
		},
		{
			name:   "leaves error-only responses alone",
			body:   `{"errors":[{"message":"boom"}]}`,
			fields: []string{"tenant"},
			want:   `{"errors":[{"message":"boom"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := []*rewrite.Operation{{TenantFields: tt.fields}}
			got, err := filterTenantRows([]byte(tt.body), ops, false, memberships)
			if err != nil {
				t.Fatalf("filterTenantRows: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("filtered = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFilterTenantRowsBatchMismatch(t *testing.T) {
	ops := []*rewrite.Operation{
		{TenantFields: []string{"tenant"}},
		{},
	}
	body := `[{"data":{"tenant":[]}}]`

	_, err := filterTenantRows([]byte(body), ops, true, nil)
	if err == nil {
		t.Fatal("expected an error for a short batch response")
	}
	if !strings.Contains(err.Error(), "1 response elements for 2 operations") {
		t.Errorf("error = %v, want element count mismatch", err)
	}
}

func TestFilterTenantRowsRejectsMalformedBody(t *testing.T) {
	ops := []*rewrite.Operation{{TenantFields: []string{"tenant"}}}
	if _, err := filterTenantRows([]byte(`not json`), ops, false, nil); err == nil {
		t.Error("expected an error for a malformed single response")
	}
	if _, err := filterTenantRows([]byte(`{"data":{}}`), ops, true, nil); err == nil {
		t.Error("expected an error for a non-array batch response")
	}
}
