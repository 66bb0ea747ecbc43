package manifest

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// Validate checks m against the embedded CUE schema. Every field must be
// concrete and in range, so defaults should be applied first.
func Validate(m *Manifest) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Manifest"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("lookup #Manifest: %w", err)
	}

	v := ctx.Encode(m)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}

	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
