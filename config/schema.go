package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// schemaSource describes the structure of a graph document. Nested function
// lists are checked recursively against #Function.
const schemaSource = `
#FieldType: "int" | "float" | "bool" | "text" | "decimal" | "formula" | "script" | "function" | "list" | "object"

#Document: {
    name?: string
    description?: string
    cycle?: string
    hot_reload?: bool
    reload_interval?: string
    logging?: #Logging
    telemetry?: {
        enabled?: bool
        listen?: string
    }
    engine?: {
        shadowing?: "" | "outer" | "inner"
        max_depth?: int & >=0
        max_call_depth?: int & >=0
    }
    modules?: [...(string | #Module)]
    globals?: [...#Field]
    functions?: [...#Function]
}

#Module: {
    path: string
    name?: string
    description?: string
}

#Logging: {
    level?: string
    format?: "" | "json" | "text"
    loki?: {
        enabled?: bool
        url?: string
        labels?: {[string]: string}
    }
}

#Field: {
    name: string
    type: #FieldType
    value?: _
    formula?: string
    policy?: "always" | "cache"
    element?: "int" | "float" | "bool" | "text" | "decimal"
    object?: string
    params?: [...string]
    renamable?: bool
}

#Function: {
    kind: string
    name?: string
    disabled?: bool
    inputs?: [...#Field]
    outputs?: [...#Field]
    lists?: {[string]: #List}
}

#List: {
    globals?: [...#Field]
    functions?: [..._]
}
`

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDoc  cue.Value
	schemaFn   cue.Value
	schemaErr  error
)

func loadSchema() error {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		root := schemaCtx.CompileString(schemaSource, cue.Filename("vfunc.cue"))
		if err := root.Err(); err != nil {
			schemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		schemaDoc = root.LookupPath(cue.ParsePath("#Document"))
		schemaFn = root.LookupPath(cue.ParsePath("#Function"))
	})
	return schemaErr
}

// validateSchema checks raw YAML against the document schema.
func validateSchema(name string, raw []byte) error {
	if err := loadSchema(); err != nil {
		return err
	}
	file, err := cueyaml.Extract(name, raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	doc := schemaCtx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return schemaError(name, err)
	}
	if err := schemaDoc.Unify(doc).Validate(); err != nil {
		return schemaError(name, err)
	}
	return checkFunctions(name, doc.LookupPath(cue.ParsePath("functions")))
}

func checkFunctions(name string, functions cue.Value) error {
	if !functions.Exists() {
		return nil
	}
	iter, err := functions.List()
	if err != nil {
		return schemaError(name, err)
	}
	for iter.Next() {
		fn := iter.Value()
		if err := schemaFn.Unify(fn).Validate(); err != nil {
			return schemaError(name, err)
		}
		lists := fn.LookupPath(cue.ParsePath("lists"))
		if !lists.Exists() {
			continue
		}
		fields, err := lists.Fields()
		if err != nil {
			return schemaError(name, err)
		}
		for fields.Next() {
			if err := checkFunctions(name, fields.Value().LookupPath(cue.ParsePath("functions"))); err != nil {
				return err
			}
		}
	}
	return nil
}

func schemaError(name string, err error) error {
	return fmt.Errorf("%s: schema: %s", name, cueerrors.Details(err, nil))
}
