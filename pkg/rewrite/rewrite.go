// Package rewrite enforces tenant isolation on GraphQL documents before they
// reach the upstream API. Every top-level selection is classified and either
// scoped to the request tenant (where-clause injection), proven to belong to
// it (belonging checks against the upstream), or denied. Documents the
// rewriter cannot positively authorize never leave it.
package rewrite

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
)

// ErrInvalidGraphQL marks documents that failed to parse or print. The proxy
// maps it to HTTP 400.
var ErrInvalidGraphQL = errors.New("invalid graphql")

// DenyError is an authorization rejection. The proxy maps it to HTTP 403 and
// uses Reason as a metric label, so reasons come from a small fixed set.
type DenyError struct {
	Reason string
	Detail string
}

func (e *DenyError) Error() string {
	return fmt.Sprintf("denied (%s): %s", e.Reason, e.Detail)
}

func deny(reason, format string, args ...any) *DenyError {
	return &DenyError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Deny reasons.
const (
	ReasonSubscription     = "subscription"
	ReasonInvalidOperation = "invalid_operation"
	ReasonBlockedEntity    = "blocked_entity"
	ReasonUnknownEntity    = "unknown_entity"
	ReasonUnknownAction    = "unknown_action"
	ReasonMissingID        = "missing_id"
	ReasonNotInTenant      = "not_in_tenant"
	ReasonTenantMismatch   = "tenant_mismatch"
	ReasonUnsupportedWhere = "unsupported_where"
)

// BelongingOracle answers whether an upstream entity belongs to a tenant.
// Failures count as "no"; the rewriter never distinguishes them.
type BelongingOracle interface {
	Belongs(ctx context.Context, entity, id, tenantID string) bool
}

// Rewriter rewrites GraphQL operations so they cannot read or write outside
// the request tenant.
type Rewriter struct {
	oracle BelongingOracle
}

// NewRewriter creates a Rewriter backed by the given oracle.
func NewRewriter(oracle BelongingOracle) *Rewriter {
	return &Rewriter{oracle: oracle}
}

// Rewrite authorizes and rewrites every operation in place for tenantID.
// The first failure aborts the whole batch: either *DenyError, an error
// wrapping ErrInvalidGraphQL, or nil.
func (rw *Rewriter) Rewrite(ctx context.Context, ops []*Operation, tenantID string) error {
	for _, op := range ops {
		doc, err := parser.Parse(parser.ParseParams{Source: op.Query})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidGraphQL, err)
		}

		executable := false
		for _, def := range doc.Definitions {
			switch node := def.(type) {
			case *ast.FragmentDefinition:
				continue
			case *ast.OperationDefinition:
				executable = true
				switch node.Operation {
				case "query":
					if err := rw.rewriteQuery(ctx, node, op, tenantID); err != nil {
						return err
					}
				case "mutation":
					if err := rw.rewriteMutation(ctx, node, op, tenantID); err != nil {
						return err
					}
				default:
					return deny(ReasonSubscription, "operation type %q is not allowed", node.Operation)
				}
			default:
				return deny(ReasonInvalidOperation, "definition %T is not executable", def)
			}
		}
		if !executable {
			return deny(ReasonInvalidOperation, "document has no executable operation")
		}

		printed, ok := printer.Print(doc).(string)
		if !ok {
			return fmt.Errorf("%w: printing rewritten document", ErrInvalidGraphQL)
		}
		op.Query = printed
	}
	return nil
}
