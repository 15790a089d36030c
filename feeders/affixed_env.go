package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

var durationType = reflect.TypeOf(time.Duration(0))

// AffixedEnvFeeder fills fields tagged `env:"NAME"` from the variable
// PREFIX_NAME_SUFFIX. Unset or empty variables leave the field alone.
// Nested structs and non-nil struct pointers are walked with the same
// affixes.
type AffixedEnvFeeder struct {
	Prefix string
	Suffix string
}

func NewAffixedEnvFeeder(prefix, suffix string) AffixedEnvFeeder {
	return AffixedEnvFeeder{Prefix: prefix, Suffix: suffix}
}

func (f AffixedEnvFeeder) Feed(target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrEnvInvalidStructure
	}
	if f.Prefix == "" && f.Suffix == "" {
		return ErrEnvEmptyPrefixAndSuffix
	}
	return f.walk(rv.Elem())
}

// VarName returns the variable read for a field tagged env:"tag".
func (f AffixedEnvFeeder) VarName(tag string) string {
	parts := make([]string, 0, 3)
	if f.Prefix != "" {
		parts = append(parts, f.Prefix)
	}
	parts = append(parts, tag)
	if f.Suffix != "" {
		parts = append(parts, f.Suffix)
	}
	return strings.ToUpper(strings.Join(parts, "_"))
}

func (f AffixedEnvFeeder) walk(rv reflect.Value) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		field, sf := rv.Field(i), rt.Field(i)

		var err error
		switch {
		case field.Kind() == reflect.Struct:
			err = f.walk(field)
		case field.Kind() == reflect.Pointer:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				err = f.walk(field.Elem())
			}
		default:
			tag, ok := sf.Tag.Lookup("env")
			if !ok {
				continue
			}
			if value := os.Getenv(f.VarName(tag)); value != "" {
				err = assign(field, value)
			}
		}
		if err != nil {
			return fmt.Errorf("error in field '%s': %w", sf.Name, err)
		}
	}
	return nil
}

// assign converts raw into the field's type. Durations use
// time.ParseDuration and string slices are comma separated.
func assign(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return ErrEnvFieldCannotBeSet
	}

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("cannot convert value to duration: %w", err)
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		items := reflect.MakeSlice(field.Type(), 0, strings.Count(raw, ",")+1)
		for item := range strings.SplitSeq(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = reflect.Append(items, reflect.ValueOf(item).Convert(field.Type().Elem()))
			}
		}
		field.Set(items)
	default:
		v, err := cast.FromType(raw, field.Type())
		if err != nil {
			return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
		}
		field.Set(reflect.ValueOf(v).Convert(field.Type()))
	}
	return nil
}
