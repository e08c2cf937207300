package config

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/timzifer/vfunc/formula"
)

// Validate reports every semantic problem of the document at once.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var result *multierror.Error
	if _, err := formula.ParseShadowing(c.Engine.Shadowing); err != nil {
		result = multierror.Append(result, fmt.Errorf("engine: %w", err))
	}
	if c.Engine.MaxDepth < 0 || c.Engine.MaxCallDepth < 0 {
		result = multierror.Append(result, fmt.Errorf("engine: depth limits must not be negative"))
	}
	for _, err := range validateFields("globals", c.Globals) {
		result = multierror.Append(result, err)
	}
	for i, fn := range c.Functions {
		for _, err := range validateFunction(fmt.Sprintf("functions[%d]", i), fn) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func validateFunction(path string, fn FunctionConfig) []error {
	var errs []error
	if fn.Kind == "" {
		errs = append(errs, fmt.Errorf("%s: kind is required", path))
	} else {
		path = fmt.Sprintf("%s (%s)", path, fn.Kind)
	}
	errs = append(errs, validateFields(path+".inputs", fn.Inputs)...)
	errs = append(errs, validateFields(path+".outputs", fn.Outputs)...)
	for name, list := range fn.Lists {
		listPath := fmt.Sprintf("%s.lists.%s", path, name)
		errs = append(errs, validateFields(listPath+".globals", list.Globals)...)
		for i, child := range list.Functions {
			errs = append(errs, validateFunction(fmt.Sprintf("%s.functions[%d]", listPath, i), child)...)
		}
	}
	return errs
}

func validateFields(path string, fields []FieldConfig) []error {
	var errs []error
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		at := fmt.Sprintf("%s[%d]", path, i)
		if !formula.ValidIdentifier(f.Name) {
			errs = append(errs, fmt.Errorf("%s: invalid field name %q", at, f.Name))
		} else if _, dup := seen[f.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate field %s", at, f.Name))
		}
		seen[f.Name] = struct{}{}
		if !f.Type.Known() {
			errs = append(errs, fmt.Errorf("%s: unknown field type %q", at, f.Type))
			continue
		}
		switch f.Type {
		case FieldFormula, FieldScript:
			if f.Value != nil {
				errs = append(errs, fmt.Errorf("%s: %s fields take formula, not value", at, f.Type))
			}
		case FieldFunction:
			if f.Formula == "" {
				errs = append(errs, fmt.Errorf("%s: function body is required", at))
			}
			for _, p := range f.Params {
				if !formula.ValidIdentifier(p) {
					errs = append(errs, fmt.Errorf("%s: invalid parameter name %q", at, p))
				}
			}
		case FieldList:
			if !f.Element.Scalar() {
				errs = append(errs, fmt.Errorf("%s: list element type %q is not a scalar type", at, f.Element))
			}
		case FieldObject:
			if f.Object == "" {
				errs = append(errs, fmt.Errorf("%s: object type is required", at))
			}
		default:
			if f.Formula != "" {
				errs = append(errs, fmt.Errorf("%s: %s fields take value, not formula", at, f.Type))
			}
		}
		if f.Policy != "" && f.Type != FieldFormula {
			errs = append(errs, fmt.Errorf("%s: policy applies to formula fields only", at))
		}
	}
	return errs
}
