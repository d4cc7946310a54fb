package rewrite

import (
	"strings"

	"github.com/graphql-go/graphql/language/ast"
)

// pair couples a foreign-key stem with the id it references. The stem is the
// field name with its "_id" suffix removed.
type pair struct {
	entity string
	id     string
}

// nameMatches reports whether an argument or field name identifies the id we
// are looking for. loosen additionally accepts any *_id name, used for
// mutations whose argument carries the parent's id.
func nameMatches(name, want string, loosen bool) bool {
	return name == want || name == "id" || (loosen && strings.HasSuffix(name, "_id"))
}

// valueString resolves an AST value to a string: either a string literal or
// a variable bound to a string. Anything else does not count as an id.
func valueString(v ast.Value, vars map[string]any) (string, bool) {
	switch node := v.(type) {
	case *ast.StringValue:
		return node.Value, true
	case *ast.Variable:
		return jsonString(vars[node.Name.Value])
	}
	return "", false
}

func jsonString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// comparisonString unwraps a string from a literal, a variable, or a
// comparison object like {_eq: "..."}.
func comparisonString(v ast.Value, vars map[string]any) (string, bool) {
	if id, ok := valueString(v, vars); ok {
		return id, true
	}
	obj, ok := v.(*ast.ObjectValue)
	if !ok {
		return "", false
	}
	for _, f := range obj.Fields {
		if f.Name.Value == "_eq" {
			return valueString(f.Value, vars)
		}
	}
	return "", false
}

// comparisonJSON is comparisonString for values already living in the
// variables map.
func comparisonJSON(v any) (string, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	if obj, ok := v.(map[string]any); ok {
		if s, ok := obj["_eq"].(string); ok {
			return s, true
		}
	}
	return "", false
}

// entityID finds the id of entity in a selection's arguments or variables.
// The search order is: a {entity}_id variable, then plain arguments, then
// the where argument, then the input argument. Not finding one is a denial:
// an operation whose target cannot be identified cannot be authorized.
func entityID(entity string, field *ast.Field, vars map[string]any, loosen bool) (string, error) {
	want := entity + "_id"
	if id, ok := jsonString(vars[want]); ok {
		return id, nil
	}
	for _, arg := range field.Arguments {
		name := arg.Name.Value
		switch {
		case nameMatches(name, want, loosen):
			if id, ok := valueString(arg.Value, vars); ok {
				return id, nil
			}
		case name == "where":
			if id, ok := idFromWhere(arg.Value, vars, want, loosen); ok {
				return id, nil
			}
		case name == "input":
			if id, ok := idFromInput(arg.Value, vars, want, loosen); ok {
				return id, nil
			}
		}
	}
	return "", deny(ReasonMissingID, "no %s in arguments or variables of %s", want, field.Name.Value)
}

func idFromWhere(value ast.Value, vars map[string]any, want string, loosen bool) (string, bool) {
	switch where := value.(type) {
	case *ast.ObjectValue:
		for _, f := range where.Fields {
			switch {
			case nameMatches(f.Name.Value, want, loosen):
				if id, ok := comparisonString(f.Value, vars); ok {
					return id, true
				}
			case f.Name.Value == "_and":
				if id, ok := idFromAnd(f.Value, vars, want, loosen); ok {
					return id, true
				}
			}
		}
	case *ast.Variable:
		if obj, ok := vars[where.Name.Value].(map[string]any); ok {
			return idFromWhereJSON(obj, want, loosen)
		}
	}
	return "", false
}

// idFromAnd searches an _and conjunction. The standard form is a list of
// condition objects; some legacy clients send a single object instead.
func idFromAnd(v ast.Value, vars map[string]any, want string, loosen bool) (string, bool) {
	switch and := v.(type) {
	case *ast.ListValue:
		for _, el := range and.Values {
			switch cond := el.(type) {
			case *ast.ObjectValue:
				for _, f := range cond.Fields {
					if nameMatches(f.Name.Value, want, loosen) {
						if id, ok := comparisonString(f.Value, vars); ok {
							return id, true
						}
					}
				}
			case *ast.Variable:
				if id, ok := jsonString(vars[cond.Name.Value]); ok {
					return id, true
				}
			}
		}
	case *ast.ObjectValue:
		for _, f := range and.Fields {
			if nameMatches(f.Name.Value, want, loosen) {
				if id, ok := comparisonString(f.Value, vars); ok {
					return id, true
				}
			}
		}
	}
	return "", false
}

func idFromWhereJSON(where map[string]any, want string, loosen bool) (string, bool) {
	for key, val := range where {
		if key == "_and" {
			switch and := val.(type) {
			case []any:
				for _, el := range and {
					cond, ok := el.(map[string]any)
					if !ok {
						continue
					}
					for k, v := range cond {
						if nameMatches(k, want, loosen) {
							if id, ok := comparisonJSON(v); ok {
								return id, true
							}
						}
					}
				}
			case map[string]any:
				for k, v := range and {
					if nameMatches(k, want, loosen) {
						if id, ok := comparisonJSON(v); ok {
							return id, true
						}
					}
				}
			}
			continue
		}
		if nameMatches(key, want, loosen) {
			if id, ok := comparisonJSON(val); ok {
				return id, true
			}
		}
	}
	return "", false
}

func idFromInput(value ast.Value, vars map[string]any, want string, loosen bool) (string, bool) {
	switch in := value.(type) {
	case *ast.ObjectValue:
		for _, f := range in.Fields {
			if nameMatches(f.Name.Value, want, loosen) {
				if id, ok := valueString(f.Value, vars); ok {
					return id, true
				}
			}
		}
	case *ast.Variable:
		obj, ok := vars[in.Name.Value].(map[string]any)
		if !ok {
			return "", false
		}
		for k, v := range obj {
			if nameMatches(k, want, loosen) {
				if id, ok := jsonString(v); ok {
					return id, true
				}
			}
		}
	}
	return "", false
}

// pairsFromObject collects every *_id reference from an inline object. A
// field named exactly "id" is the row's own key, not a reference, and is
// skipped. With deep set, nested objects and lists are searched too, which
// covers nested insert wrappers.
func pairsFromObject(obj *ast.ObjectValue, vars map[string]any, deep bool) []pair {
	var out []pair
	for _, f := range obj.Fields {
		name := f.Name.Value
		if strings.HasSuffix(name, "_id") {
			if id, ok := valueString(f.Value, vars); ok {
				out = append(out, pair{entity: strings.TrimSuffix(name, "_id"), id: id})
			}
			continue
		}
		if !deep {
			continue
		}
		switch v := f.Value.(type) {
		case *ast.ObjectValue:
			out = append(out, pairsFromObject(v, vars, deep)...)
		case *ast.ListValue:
			for _, el := range v.Values {
				if nested, ok := el.(*ast.ObjectValue); ok {
					out = append(out, pairsFromObject(nested, vars, deep)...)
				}
			}
		}
	}
	return out
}

// pairsFromJSONObject is pairsFromObject for objects bound via variables.
func pairsFromJSONObject(obj map[string]any, deep bool) []pair {
	var out []pair
	for key, val := range obj {
		if strings.HasSuffix(key, "_id") {
			if id, ok := jsonString(val); ok {
				out = append(out, pair{entity: strings.TrimSuffix(key, "_id"), id: id})
			}
			continue
		}
		if !deep {
			continue
		}
		switch v := val.(type) {
		case map[string]any:
			out = append(out, pairsFromJSONObject(v, deep)...)
		case []any:
			for _, el := range v {
				if nested, ok := el.(map[string]any); ok {
					out = append(out, pairsFromJSONObject(nested, deep)...)
				}
			}
		}
	}
	return out
}

// insertPairs collects id references from an insert mutation's objects (or
// object) argument, descending into nested relation wrappers.
func insertPairs(field *ast.Field, vars map[string]any) []pair {
	var out []pair
	for _, arg := range field.Arguments {
		switch arg.Name.Value {
		case "objects":
			switch v := arg.Value.(type) {
			case *ast.ListValue:
				for _, el := range v.Values {
					if obj, ok := el.(*ast.ObjectValue); ok {
						out = append(out, pairsFromObject(obj, vars, true)...)
					}
				}
			case *ast.Variable:
				if rows, ok := vars[v.Name.Value].([]any); ok {
					for _, el := range rows {
						if obj, ok := el.(map[string]any); ok {
							out = append(out, pairsFromJSONObject(obj, true)...)
						}
					}
				}
			}
		case "object":
			switch v := arg.Value.(type) {
			case *ast.ObjectValue:
				out = append(out, pairsFromObject(v, vars, true)...)
			case *ast.Variable:
				if obj, ok := vars[v.Name.Value].(map[string]any); ok {
					out = append(out, pairsFromJSONObject(obj, true)...)
				}
			}
		}
	}
	return out
}

// inputPairs collects top-level id references from a mutation's input
// argument. Only direct fields count; nested payloads like parameters may
// carry arbitrary user keys.
func inputPairs(field *ast.Field, vars map[string]any) []pair {
	for _, arg := range field.Arguments {
		if arg.Name.Value != "input" {
			continue
		}
		switch in := arg.Value.(type) {
		case *ast.ObjectValue:
			return pairsFromObject(in, vars, false)
		case *ast.Variable:
			if obj, ok := vars[in.Name.Value].(map[string]any); ok {
				return pairsFromJSONObject(obj, false)
			}
		}
		return nil
	}
	return nil
}

// statePairs collects id references from input.states, the list of state
// transitions carried by set_*_states mutations.
func statePairs(field *ast.Field, vars map[string]any) []pair {
	var out []pair
	for _, arg := range field.Arguments {
		if arg.Name.Value != "input" {
			continue
		}
		switch in := arg.Value.(type) {
		case *ast.ObjectValue:
			for _, f := range in.Fields {
				if f.Name.Value != "states" {
					continue
				}
				switch states := f.Value.(type) {
				case *ast.ListValue:
					for _, el := range states.Values {
						if obj, ok := el.(*ast.ObjectValue); ok {
							out = append(out, pairsFromObject(obj, vars, false)...)
						}
					}
				case *ast.Variable:
					out = append(out, listPairsJSON(vars[states.Name.Value])...)
				}
			}
		case *ast.Variable:
			if obj, ok := vars[in.Name.Value].(map[string]any); ok {
				out = append(out, listPairsJSON(obj["states"])...)
			}
		}
	}
	return out
}

// listPairsJSON collects flat pairs from a JSON array of row objects.
func listPairsJSON(v any) []pair {
	rows, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []pair
	for _, el := range rows {
		if obj, ok := el.(map[string]any); ok {
			out = append(out, pairsFromJSONObject(obj, false)...)
		}
	}
	return out
}

// logFlowRunIDs collects the flow_run_id of every entry in input.logs, the
// payload of write_run_logs.
func logFlowRunIDs(field *ast.Field, vars map[string]any) []string {
	var out []string
	collect := func(pairs []pair) {
		for _, p := range pairs {
			if p.entity == "flow_run" {
				out = append(out, p.id)
			}
		}
	}
	for _, arg := range field.Arguments {
		if arg.Name.Value != "input" {
			continue
		}
		switch in := arg.Value.(type) {
		case *ast.ObjectValue:
			for _, f := range in.Fields {
				if f.Name.Value != "logs" {
					continue
				}
				switch logs := f.Value.(type) {
				case *ast.ListValue:
					for _, el := range logs.Values {
						if obj, ok := el.(*ast.ObjectValue); ok {
							collect(pairsFromObject(obj, vars, false))
						}
					}
				case *ast.Variable:
					collect(listPairsJSON(vars[logs.Name.Value]))
				}
			}
		case *ast.Variable:
			if obj, ok := vars[in.Name.Value].(map[string]any); ok {
				collect(listPairsJSON(obj["logs"]))
			}
		}
	}
	return out
}
