package rewrite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

type fakeOracle struct {
	verdicts map[string]bool
	calls    []string
}

func (f *fakeOracle) Belongs(_ context.Context, entity, id, tenantID string) bool {
	key := entity + "/" + id + "/" + tenantID
	f.calls = append(f.calls, key)
	return f.verdicts[key]
}

func rewriteOne(t *testing.T, oracle *fakeOracle, query string, vars map[string]any) (*Operation, error) {
	t.Helper()
	op := &Operation{Query: query, Variables: vars}
	err := NewRewriter(oracle).Rewrite(context.Background(), []*Operation{op}, "t1")
	return op, err
}

func wantDeny(t *testing.T, err error, reason string) {
	t.Helper()
	var de *DenyError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DenyError", err)
	}
	if de.Reason != reason {
		t.Fatalf("deny reason = %q (%s), want %q", de.Reason, de.Detail, reason)
	}
}

func TestRewriteQueryInjection(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		vars         map[string]any
		contains     []string
		notContains  []string
		checkVars    func(*testing.T, map[string]any)
		tenantFields []string
	}{
		{
			name:        "public query passes untouched",
			query:       `query { hello }`,
			contains:    []string{"hello"},
			notContains: []string{"tenant_id"},
		},
		{
			name:        "introspection passes untouched",
			query:       `query { __schema { queryType { name } } }`,
			notContains: []string{"tenant_id"},
		},
		{
			name:     "list query without where gets scoped",
			query:    `query { flow_run { id state } }`,
			contains: []string{`flow_run(where: {tenant_id: {_eq: "t1"}})`},
		},
		{
			name:     "existing conditions survive scoping",
			query:    `query { flow_run(where: {name: {_eq: "daily"}}) { id } }`,
			contains: []string{`name: {_eq: "daily"}`, `tenant_id: {_eq: "t1"}`},
		},
		{
			name:        "client tenant_id is overwritten",
			query:       `query { flow_run(where: {tenant_id: {_eq: "evil"}}) { id } }`,
			contains:    []string{`tenant_id: {_eq: "t1"}`},
			notContains: []string{"evil"},
		},
		{
			name:     "tenant_id comparison without _eq gains one",
			query:    `query { flow_run(where: {tenant_id: {_neq: "x"}}) { id } }`,
			contains: []string{`_eq: "t1"`},
		},
		{
			name:  "tenant_id bound to a variable is overwritten in variables",
			query: `query ($t: uuid) { flow_run(where: {tenant_id: {_eq: $t}}) { id } }`,
			vars:  map[string]any{"t": "evil"},
			checkVars: func(t *testing.T, vars map[string]any) {
				if vars["t"] != "t1" {
					t.Errorf("vars[t] = %v, want t1", vars["t"])
				}
			},
		},
		{
			name:  "where bound to a variable is scoped in variables",
			query: `query ($w: flow_run_bool_exp) { flow_run(where: $w) { id } }`,
			vars:  map[string]any{"w": map[string]any{"name": map[string]any{"_eq": "daily"}}},
			checkVars: func(t *testing.T, vars map[string]any) {
				w := vars["w"].(map[string]any)
				if w["name"] == nil {
					t.Error("client condition dropped from where variable")
				}
				cmp, _ := w["tenant_id"].(map[string]any)
				if cmp == nil || cmp["_eq"] != "t1" {
					t.Errorf("where variable tenant_id = %v, want _eq t1", w["tenant_id"])
				}
			},
		},
		{
			name:  "missing where variable is created",
			query: `query ($w: flow_run_bool_exp) { flow_run(where: $w) { id } }`,
			checkVars: func(t *testing.T, vars map[string]any) {
				w, _ := vars["w"].(map[string]any)
				if w == nil {
					t.Fatal("where variable not created")
				}
				cmp, _ := w["tenant_id"].(map[string]any)
				if cmp == nil || cmp["_eq"] != "t1" {
					t.Errorf("where variable = %v", w)
				}
			},
		},
		{
			name:  "client tenant_id variable value is replaced",
			query: `query ($w: flow_run_bool_exp) { flow_run(where: $w) { id } }`,
			vars:  map[string]any{"w": map[string]any{"tenant_id": map[string]any{"_eq": "evil"}}},
			checkVars: func(t *testing.T, vars map[string]any) {
				cmp := vars["w"].(map[string]any)["tenant_id"].(map[string]any)
				if cmp["_eq"] != "t1" {
					t.Errorf("tenant_id._eq = %v, want t1", cmp["_eq"])
				}
			},
		},
		{
			name:         "tenant listing is flagged and id injected",
			query:        `query { tenant { slug } }`,
			tenantFields: []string{"tenant"},
			contains:     []string{"id"},
		},
		{
			name:         "tenant listing alias is recorded",
			query:        `query { mine: tenant { id slug } }`,
			tenantFields: []string{"mine"},
		},
		{
			name:     "every selection in a document is handled",
			query:    `query { hello flow_run { id } }`,
			contains: []string{"hello", `flow_run(where: {tenant_id: {_eq: "t1"}})`},
		},
		{
			name: "fragments are kept and list selections scoped",
			query: `query { flow_run { ...runFields } }
fragment runFields on flow_run { id state }`,
			contains: []string{"...runFields", "fragment runFields", `tenant_id: {_eq: "t1"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{}
			op, err := rewriteOne(t, oracle, tt.query, tt.vars)
			if err != nil {
				t.Fatalf("Rewrite() error = %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(op.Query, want) {
					t.Errorf("rewritten query missing %q:\n%s", want, op.Query)
				}
			}
			for _, bad := range tt.notContains {
				if strings.Contains(op.Query, bad) {
					t.Errorf("rewritten query still contains %q:\n%s", bad, op.Query)
				}
			}
			if tt.checkVars != nil {
				tt.checkVars(t, op.Variables)
			}
			if len(tt.tenantFields) > 0 {
				if strings.Join(op.TenantFields, ",") != strings.Join(tt.tenantFields, ",") {
					t.Errorf("TenantFields = %v, want %v", op.TenantFields, tt.tenantFields)
				}
			}
		})
	}
}

func TestRewriteTenantSelectionGetsID(t *testing.T) {
	oracle := &fakeOracle{}
	op, err := rewriteOne(t, oracle, `query { tenant { slug } }`, nil)
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}

	// Re-parse the rewritten document and confirm the id selection landed.
	doc, err := parser.Parse(parser.ParseParams{Source: op.Query})
	if err != nil {
		t.Fatalf("re-parsing rewritten query: %v", err)
	}
	def := doc.Definitions[0].(*ast.OperationDefinition)
	field := def.SelectionSet.Selections[0].(*ast.Field)
	if field.Name.Value != "tenant" {
		t.Fatalf("first selection = %s", field.Name.Value)
	}
	found := false
	for _, sel := range field.SelectionSet.Selections {
		if sub, ok := sel.(*ast.Field); ok && sub.Name.Value == "id" {
			found = true
		}
	}
	if !found {
		t.Errorf("id not injected into tenant selection:\n%s", op.Query)
	}
}

func TestRewriteQueryBelongingChecks(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		vars       map[string]any
		verdicts   map[string]bool
		wantReason string
		wantCalls  []string
	}{
		{
			name:      "by_pk lookup in tenant passes",
			query:     `query { flow_run_by_pk(id: "r1") { id state } }`,
			verdicts:  map[string]bool{"flow_run/r1/t1": true},
			wantCalls: []string{"flow_run/r1/t1"},
		},
		{
			name:       "by_pk lookup outside tenant is denied",
			query:      `query { flow_run_by_pk(id: "r9") { id } }`,
			wantReason: ReasonNotInTenant,
			wantCalls:  []string{"flow_run/r9/t1"},
		},
		{
			name:      "flow_by_pk falls back to the flow group",
			query:     `query { flow_by_pk(id: "f1") { id } }`,
			verdicts:  map[string]bool{"flow_group/f1/t1": true},
			wantCalls: []string{"flow/f1/t1", "flow_group/f1/t1"},
		},
		{
			name:      "flow_by_pk in tenant skips the group probe",
			query:     `query { flow_by_pk(id: "f1") { id } }`,
			verdicts:  map[string]bool{"flow/f1/t1": true},
			wantCalls: []string{"flow/f1/t1"},
		},
		{
			name:      "task run info query checks the task run",
			query:     `query { get_task_run_info(task_run_id: "tr1") { state } }`,
			verdicts:  map[string]bool{"task_run/tr1/t1": true},
			wantCalls: []string{"task_run/tr1/t1"},
		},
		{
			name:       "mapped_children outside tenant is denied",
			query:      `query { mapped_children(task_run_id: "tr9") { max_map_index } }`,
			wantReason: ReasonNotInTenant,
			wantCalls:  []string{"task_run/tr9/t1"},
		},
		{
			name:      "by_pk id via variable",
			query:     `query ($id: UUID!) { task_run_by_pk(id: $id) { id } }`,
			vars:      map[string]any{"id": "tr1"},
			verdicts:  map[string]bool{"task_run/tr1/t1": true},
			wantCalls: []string{"task_run/tr1/t1"},
		},
		{
			name:       "by_pk without an id is denied",
			query:      `query { flow_run_by_pk { id } }`,
			wantReason: ReasonMissingID,
		},
		{
			name:       "tenant_by_pk goes through the oracle and fails",
			query:      `query { tenant_by_pk(id: "t2") { slug } }`,
			wantReason: ReasonNotInTenant,
			wantCalls:  []string{"tenant/t2/t1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{verdicts: tt.verdicts}
			_, err := rewriteOne(t, oracle, tt.query, tt.vars)
			if tt.wantReason != "" {
				wantDeny(t, err, tt.wantReason)
			} else if err != nil {
				t.Fatalf("Rewrite() error = %v", err)
			}
			if tt.wantCalls != nil {
				got := strings.Join(oracle.calls, " ")
				want := strings.Join(tt.wantCalls, " ")
				if got != want {
					t.Errorf("oracle calls = %q, want %q", got, want)
				}
			}
		})
	}
}

func TestRewriteRejectsNonExecutable(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantReason string
	}{
		{
			name:       "subscriptions are denied",
			query:      `subscription { flow_run { id } }`,
			wantReason: ReasonSubscription,
		},
		{
			name:       "fragment-only documents are denied",
			query:      `fragment runFields on flow_run { id }`,
			wantReason: ReasonInvalidOperation,
		},
		{
			name:       "top-level fragment spreads are denied",
			query:      `query { ...runList } fragment runList on query_root { hello }`,
			wantReason: ReasonInvalidOperation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rewriteOne(t, &fakeOracle{}, tt.query, nil)
			wantDeny(t, err, tt.wantReason)
		})
	}
}

func TestRewriteInvalidGraphQL(t *testing.T) {
	for _, query := range []string{"", "query {", "{}", "not graphql at all !!"} {
		_, err := rewriteOne(t, &fakeOracle{}, query, nil)
		if !errors.Is(err, ErrInvalidGraphQL) {
			t.Errorf("Rewrite(%q) error = %v, want ErrInvalidGraphQL", query, err)
		}
	}
}

func TestRewriteBatchShortCircuits(t *testing.T) {
	oracle := &fakeOracle{}
	ops := []*Operation{
		{Query: `query { hello }`},
		{Query: `mutation { delete_cloud_hook(where: {id: {_eq: "h1"}}) { affected_rows } }`},
		{Query: `query { flow_run { id } }`},
	}
	err := NewRewriter(oracle).Rewrite(context.Background(), ops, "t1")
	wantDeny(t, err, ReasonBlockedEntity)

	// The third operation was never reached.
	if strings.Contains(ops[2].Query, "tenant_id") {
		t.Errorf("operation after the denial was rewritten: %s", ops[2].Query)
	}
}
