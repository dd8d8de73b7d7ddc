// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// FlagBinder is implemented by parameter groups that register their
// own flags. When a struct field's type implements FlagBinder,
// [BindFlags] calls AddFlags instead of reflecting struct tags. The
// agent connection flags shared by every agent command use this.
type FlagBinder interface {
	AddFlags(flagSet *pflag.FlagSet)
}

// FlagsFromParams creates a [pflag.FlagSet] with flags bound to the
// tagged fields of params. params must be a pointer to a struct.
// Panics on invalid input (programming error, not runtime data).
func FlagsFromParams(name string, params any) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	if err := BindFlags(params, flagSet); err != nil {
		panic(fmt.Sprintf("cli.FlagsFromParams(%q): %v", name, err))
	}
	return flagSet
}

// BindFlags registers pflag entries for each tagged field in params.
// params must be a pointer to a struct.
//
// Three struct tags control binding:
//
//   - flag:"name" or flag:"name,n": the long name and optional
//     shorthand. Fields without a flag tag are skipped.
//   - desc:"help text": the flag's help line.
//   - default:"value": the default, parsed per the field's Go type.
//
// Supported field types are string, bool, int, [time.Duration] and
// []string. A []string flag may be repeated; each occurrence may also
// carry a comma-separated list.
//
// Struct fields implementing [FlagBinder] bind themselves. Other
// embedded structs are bound recursively.
func BindFlags(params any, flagSet *pflag.FlagSet) error {
	value := reflect.ValueOf(params)
	if value.Kind() != reflect.Ptr || value.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("params must be a pointer to a struct, got %T", params)
	}
	return bindStructFields(value.Elem(), flagSet)
}

func bindStructFields(structValue reflect.Value, flagSet *pflag.FlagSet) error {
	structType := structValue.Type()

	for i := range structType.NumField() {
		field := structType.Field(i)
		fieldValue := structValue.Field(i)

		if field.Type.Kind() == reflect.Struct && field.IsExported() && fieldValue.CanAddr() {
			if binder, ok := fieldValue.Addr().Interface().(FlagBinder); ok {
				binder.AddFlags(flagSet)
				continue
			}
		}

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			if err := bindStructFields(fieldValue, flagSet); err != nil {
				return fmt.Errorf("embedded %s: %w", field.Name, err)
			}
			continue
		}

		flagTag := field.Tag.Get("flag")
		if flagTag == "" {
			continue
		}
		if !fieldValue.CanAddr() {
			return fmt.Errorf("field %s: not addressable", field.Name)
		}

		name, shorthand, _ := strings.Cut(flagTag, ",")
		binding := flagBinding{
			name:        name,
			shorthand:   shorthand,
			description: field.Tag.Get("desc"),
			fallback:    field.Tag.Get("default"),
		}
		if err := binding.bind(fieldValue.Addr().Interface(), flagSet); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}

	return nil
}

// flagBinding is the parsed tag set of one struct field.
type flagBinding struct {
	name        string
	shorthand   string
	description string
	fallback    string
}

func (b flagBinding) bind(pointer any, flagSet *pflag.FlagSet) error {
	switch target := pointer.(type) {
	case *string:
		flagSet.StringVarP(target, b.name, b.shorthand, b.fallback, b.description)

	case *bool:
		value, err := parseDefault(b.fallback, false, strconv.ParseBool)
		if err != nil {
			return b.defaultError(err)
		}
		flagSet.BoolVarP(target, b.name, b.shorthand, value, b.description)

	case *int:
		value, err := parseDefault(b.fallback, 0, strconv.Atoi)
		if err != nil {
			return b.defaultError(err)
		}
		flagSet.IntVarP(target, b.name, b.shorthand, value, b.description)

	case *time.Duration:
		value, err := parseDefault(b.fallback, 0, time.ParseDuration)
		if err != nil {
			return b.defaultError(err)
		}
		flagSet.DurationVarP(target, b.name, b.shorthand, value, b.description)

	case *[]string:
		var value []string
		if b.fallback != "" {
			value = strings.Split(b.fallback, ",")
		}
		flagSet.StringSliceVarP(target, b.name, b.shorthand, value, b.description)

	default:
		return fmt.Errorf("unsupported type %T for flag --%s", pointer, b.name)
	}
	return nil
}

func (b flagBinding) defaultError(err error) error {
	return fmt.Errorf("default for --%s: %w", b.name, err)
}

// parseDefault parses a default tag, returning zero for an empty tag.
func parseDefault[T any](text string, zero T, parse func(string) (T, error)) (T, error) {
	if text == "" {
		return zero, nil
	}
	return parse(text)
}
