package rewrite

import (
	"context"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
)

// publicQueries resolve without touching tenant data and pass through
// untouched.
var publicQueries = map[string]bool{
	"hello":          true,
	"reference_data": true,
	"api":            true,
	"__schema":       true,
}

// taskRunQueries take a task_run_id argument instead of a where clause.
var taskRunQueries = map[string]bool{
	"mapped_children":   true,
	"get_task_run_info": true,
}

func (rw *Rewriter) rewriteQuery(ctx context.Context, def *ast.OperationDefinition, op *Operation, tenantID string) error {
	if def.SelectionSet == nil {
		return deny(ReasonInvalidOperation, "query has no selection set")
	}
	for _, sel := range def.SelectionSet.Selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			return deny(ReasonInvalidOperation, "top-level selection is not a field")
		}
		name := field.Name.Value

		switch {
		case publicQueries[name]:
			continue

		case taskRunQueries[name]:
			id, err := entityID("task_run", field, op.Variables, false)
			if err != nil {
				return err
			}
			if !rw.oracle.Belongs(ctx, "task_run", id, tenantID) {
				return deny(ReasonNotInTenant, "task_run %s", id)
			}

		case strings.HasSuffix(name, "_by_pk"):
			// The selection name is the probe table: flow_run_by_pk probes
			// flow_run. Flow ids may live on the flow group instead, so
			// flow_by_pk gets a second chance there.
			entity := strings.TrimSuffix(name, "_by_pk")
			id, err := entityID(entity, field, op.Variables, false)
			if err != nil {
				return err
			}
			belongs := rw.oracle.Belongs(ctx, entity, id, tenantID)
			if !belongs && entity == "flow" {
				belongs = rw.oracle.Belongs(ctx, "flow_group", id, tenantID)
			}
			if !belongs {
				return deny(ReasonNotInTenant, "%s %s", entity, id)
			}

		case strings.HasPrefix(name, "tenant"):
			// Tenant listings cannot be scoped with a where clause; the
			// response filter drops rows instead. It matches on id, so the
			// selection must ask for it.
			ensureIDSelected(field)
			op.TenantFields = append(op.TenantFields, responseKey(field))

		default:
			if err := injectTenantWhere(field, op, tenantID); err != nil {
				return err
			}
		}
	}
	return nil
}

// responseKey is the key the upstream uses for a selection in the response
// data: the alias when present, the field name otherwise.
func responseKey(field *ast.Field) string {
	if field.Alias != nil {
		return field.Alias.Value
	}
	return field.Name.Value
}

// ensureIDSelected appends an id sub-selection when the client did not ask
// for one.
func ensureIDSelected(field *ast.Field) {
	if field.SelectionSet == nil {
		field.SelectionSet = ast.NewSelectionSet(&ast.SelectionSet{})
	}
	for _, sel := range field.SelectionSet.Selections {
		if sub, ok := sel.(*ast.Field); ok && sub.Name.Value == "id" {
			return
		}
	}
	field.SelectionSet.Selections = append(field.SelectionSet.Selections,
		ast.NewField(&ast.Field{Name: ast.NewName(&ast.Name{Value: "id"})}))
}

// injectTenantWhere forces where.tenant_id._eq to the request tenant on a
// list selection, whatever scoping the client supplied.
func injectTenantWhere(field *ast.Field, op *Operation, tenantID string) error {
	for _, arg := range field.Arguments {
		if arg.Name.Value != "where" {
			continue
		}
		switch where := arg.Value.(type) {
		case *ast.ObjectValue:
			setTenantEqInline(where, op, tenantID)
		case *ast.Variable:
			setTenantEqVariable(op, where.Name.Value, tenantID)
		default:
			return deny(ReasonUnsupportedWhere, "where argument on %s is %T", field.Name.Value, arg.Value)
		}
		return nil
	}
	field.Arguments = append(field.Arguments, newTenantWhereArgument(tenantID))
	return nil
}

// setTenantEqInline rewrites an inline where object. Existing tenant_id._eq
// values are overwritten; a tenant_id bound to a variable is overwritten in
// the variables map so the client binding still resolves.
func setTenantEqInline(where *ast.ObjectValue, op *Operation, tenantID string) {
	for _, f := range where.Fields {
		if f.Name.Value != "tenant_id" {
			continue
		}
		cmp, ok := f.Value.(*ast.ObjectValue)
		if !ok {
			f.Value = newEqObject(tenantID)
			return
		}
		for _, sub := range cmp.Fields {
			if sub.Name.Value != "_eq" {
				continue
			}
			switch eq := sub.Value.(type) {
			case *ast.StringValue:
				eq.Value = tenantID
			case *ast.Variable:
				op.setVariable(eq.Name.Value, tenantID)
			default:
				sub.Value = ast.NewStringValue(&ast.StringValue{Value: tenantID})
			}
			return
		}
		cmp.Fields = append(cmp.Fields, ast.NewObjectField(&ast.ObjectField{
			Name:  ast.NewName(&ast.Name{Value: "_eq"}),
			Value: ast.NewStringValue(&ast.StringValue{Value: tenantID}),
		}))
		return
	}
	where.Fields = append(where.Fields, newTenantIDField(tenantID))
}

// setTenantEqVariable rewrites a where clause that lives entirely in the
// variables map.
func setTenantEqVariable(op *Operation, varName, tenantID string) {
	where, ok := op.Variables[varName].(map[string]any)
	if !ok {
		where = map[string]any{}
		op.setVariable(varName, where)
	}
	cmp, ok := where["tenant_id"].(map[string]any)
	if !ok {
		where["tenant_id"] = map[string]any{"_eq": tenantID}
		return
	}
	cmp["_eq"] = tenantID
}

func newTenantWhereArgument(tenantID string) *ast.Argument {
	return ast.NewArgument(&ast.Argument{
		Name: ast.NewName(&ast.Name{Value: "where"}),
		Value: ast.NewObjectValue(&ast.ObjectValue{
			Fields: []*ast.ObjectField{newTenantIDField(tenantID)},
		}),
	})
}

func newTenantIDField(tenantID string) *ast.ObjectField {
	return ast.NewObjectField(&ast.ObjectField{
		Name:  ast.NewName(&ast.Name{Value: "tenant_id"}),
		Value: newEqObject(tenantID),
	})
}

func newEqObject(tenantID string) *ast.ObjectValue {
	return ast.NewObjectValue(&ast.ObjectValue{Fields: []*ast.ObjectField{
		ast.NewObjectField(&ast.ObjectField{
			Name:  ast.NewName(&ast.Name{Value: "_eq"}),
			Value: ast.NewStringValue(&ast.StringValue{Value: tenantID}),
		}),
	}})
}
