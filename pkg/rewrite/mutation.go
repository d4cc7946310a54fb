package rewrite

import (
	"context"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
)

// entityAliases maps mutation-name stems to the table the belonging checks
// probe. Longer prefixes come first so flow_run never matches flow.
var entityAliases = []struct{ prefix, entity string }{
	{"cloud_hook", "cloud_hook"},
	{"flow_group", "flow_group"},
	{"_task_run", "task_run"},
	{"schedule", "flow"}, // schedule toggles live on the flow row upstream
	{"flow_run", "flow_run"},
	{"project", "project"},
	{"message", "message"},
	{"utility", "task"},
	{"tenant", "tenant"},
	{"agent", "agent"},
	{"edge", "edge"},
	{"flow", "flow"},
	{"task", "task"},
	{"log", "log"},
	{"run", "flow_run"},
}

// canonicalEntity resolves a mutation-name stem to its probe table, or ""
// when the stem is unknown.
func canonicalEntity(stem string) string {
	for _, alias := range entityAliases {
		if strings.HasPrefix(stem, alias.prefix) {
			return alias.entity
		}
	}
	return ""
}

// blockedEntity reports whether mutations on the stem are refused outright,
// regardless of tenant.
func blockedEntity(stem string) bool {
	return strings.HasPrefix(stem, "cloud_hook") ||
		strings.HasPrefix(stem, "project_description") ||
		strings.HasPrefix(stem, "message") ||
		strings.Contains(stem, "artifact")
}

// splitMutationName breaks a mutation field name into its action verb, the
// entity stem, and an optional lookup mode (the part after "_by_").
// "get_or_create" is a single verb even though it contains underscores; the
// stem it leaves behind keeps its leading underscore, which the alias table
// accounts for.
func splitMutationName(name string) (action, stem, mode string) {
	action = name
	if i := strings.Index(name, "_"); i >= 0 {
		action = name[:i]
	}
	rest := strings.TrimPrefix(name[len(action):], "_")
	if action == "get" && strings.Count(name, "get_or_create") == 1 {
		action = "get_or_create"
		_, rest, _ = strings.Cut(name, "get_or_create")
	}
	stem = rest
	if before, after, found := strings.Cut(rest, "_by_"); found {
		stem, mode = before, after
	}
	return action, stem, mode
}

func (rw *Rewriter) rewriteMutation(ctx context.Context, def *ast.OperationDefinition, op *Operation, tenantID string) error {
	if def.SelectionSet == nil {
		return deny(ReasonInvalidOperation, "mutation has no selection set")
	}
	for _, sel := range def.SelectionSet.Selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			return deny(ReasonInvalidOperation, "top-level selection is not a field")
		}
		name := field.Name.Value
		action, stem, _ := splitMutationName(name)

		if blockedEntity(stem) {
			return deny(ReasonBlockedEntity, "mutations on %s are not allowed", stem)
		}

		switch action {
		case "delete", "set", "update":
			entity := canonicalEntity(stem)
			if entity == "" {
				return deny(ReasonUnknownEntity, "%s", stem)
			}
			if strings.HasSuffix(name, "states") {
				// State transitions carry the run ids inside input.states.
				if err := rw.checkPairs(ctx, statePairs(field, op.Variables), tenantID, ""); err != nil {
					return err
				}
				continue
			}
			id, err := entityID(entity, field, op.Variables, true)
			if err != nil {
				return err
			}
			if !rw.oracle.Belongs(ctx, entity, id, tenantID) {
				return deny(ReasonNotInTenant, "%s %s", entity, id)
			}

		case "insert":
			if err := rw.checkPairs(ctx, insertPairs(field, op.Variables), tenantID, ""); err != nil {
				return err
			}

		case "archive", "cancel", "create", "disable", "enable", "get", "register":
			if err := rw.checkInput(ctx, field, op, tenantID); err != nil {
				return err
			}

		case "get_or_create":
			// Task ids are minted by the upstream during get_or_create and
			// cannot be checked; every other reference can.
			if err := rw.checkPairs(ctx, inputPairs(field, op.Variables), tenantID, "task"); err != nil {
				return err
			}

		case "write":
			if name == "write_run_logs" {
				for _, id := range logFlowRunIDs(field, op.Variables) {
					if !rw.oracle.Belongs(ctx, "flow_run", id, tenantID) {
						return deny(ReasonNotInTenant, "flow_run %s", id)
					}
				}
				continue
			}
			if err := rw.checkInput(ctx, field, op, tenantID); err != nil {
				return err
			}

		default:
			return deny(ReasonUnknownAction, "%s on %s", action, stem)
		}
	}
	return nil
}

// checkInput authorizes the id references found in a mutation's input
// argument after resolving each stem against the alias table.
func (rw *Rewriter) checkInput(ctx context.Context, field *ast.Field, op *Operation, tenantID string) error {
	pairs := inputPairs(field, op.Variables)
	for i := range pairs {
		entity := canonicalEntity(pairs[i].entity)
		if entity == "" {
			return deny(ReasonUnknownEntity, "%s", pairs[i].entity)
		}
		pairs[i].entity = entity
	}
	return rw.checkPairs(ctx, pairs, tenantID, "")
}

// checkPairs authorizes extracted (entity, id) references. A tenant
// reference must name the request tenant itself; everything else is asked of
// the oracle. skip names an entity exempt from checking.
func (rw *Rewriter) checkPairs(ctx context.Context, pairs []pair, tenantID, skip string) error {
	for _, p := range pairs {
		if p.entity == "tenant" {
			if p.id != tenantID {
				return deny(ReasonTenantMismatch, "tenant %s is not the request tenant", p.id)
			}
			continue
		}
		if skip != "" && p.entity == skip {
			continue
		}
		if !rw.oracle.Belongs(ctx, p.entity, p.id, tenantID) {
			return deny(ReasonNotInTenant, "%s %s", p.entity, p.id)
		}
	}
	return nil
}
