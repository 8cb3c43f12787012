package testfile

import (
	_ "embed"
	"fmt"
	"strconv"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

type schema struct {
	ctx *cue.Context
	def cue.Value
}

var loadSchema = sync.OnceValues(func() (*schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile test schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Test"))
	if !def.Exists() {
		return nil, fmt.Errorf("test schema has no #Test definition")
	}
	return &schema{ctx: ctx, def: def}, nil
})

// validateSchema checks a decoded file against the #Test schema.
func validateSchema(f *File) error {
	s, err := loadSchema()
	if err != nil {
		return err
	}

	v := s.def.Unify(s.ctx.Encode(f.document()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// document renders the file with only the fields that were set, keyed
// as they appear in YAML.
func (f *File) document() map[string]any {
	doc := map[string]any{
		"name":   f.Name,
		"prompt": f.Prompt,
	}
	if f.Agent != "" {
		doc["agent"] = f.Agent
	}

	assertions := make([]any, len(f.Assertions))
	for i, a := range f.Assertions {
		assertions[i] = a.document()
	}
	doc["assertions"] = assertions
	return doc
}

func (a *AssertionSpec) document() map[string]any {
	doc := map[string]any{}
	if a.Stdout != nil {
		stdout := map[string]any{"review": a.Stdout.Review}
		if a.Stdout.Threshold != nil {
			stdout["threshold"] = *a.Stdout.Threshold
		}
		if a.Stdout.Model != "" {
			stdout["model"] = a.Stdout.Model
		}
		if a.Stdout.Agent != "" {
			stdout["agent"] = a.Stdout.Agent
		}
		doc["stdout"] = stdout
	}
	if a.Tool != "" || a.Stdout == nil {
		doc["tool"] = a.Tool
	}

	setString := func(key, v string) {
		if v != "" {
			doc[key] = v
		}
	}
	setInt := func(key string, v *int) {
		if v != nil {
			doc[key] = *v
		}
	}
	setParams := func(key string, p map[string]string) {
		if p != nil {
			doc[key] = p
		}
	}

	if a.Called != nil {
		doc["called"] = *a.Called
	}
	setParams("params", a.Params)
	setString("called_after", a.CalledAfter)
	setString("called_before", a.CalledBefore)
	setInt("call_count", a.CallCount)
	setInt("min_calls", a.MinCalls)
	setInt("max_calls", a.MaxCalls)
	setParams("first_call_params", a.FirstCallParams)
	setParams("last_call_params", a.LastCallParams)
	if a.NthCallParams != nil {
		nth := make(map[string]any, len(a.NthCallParams))
		for n, p := range a.NthCallParams {
			nth[strconv.Itoa(n)] = p
		}
		doc["nth_call_params"] = nth
	}
	return doc
}
