package fabrichost

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/fabrichost/feeders"
)

const (
	tagDefault  = "default"
	tagRequired = "required"
)

// ConfigValidator is implemented by config structs with checks beyond
// required fields. LoadConfig calls Validate after defaults are applied.
type ConfigValidator interface {
	Validate() error
}

// LoadConfig fills target from each feeder in order, applies `default`
// tags to fields still zero, checks `required` tags and finally runs
// Validate when target implements ConfigValidator.
func LoadConfig(target any, sources ...feeders.Feeder) error {
	for _, f := range sources {
		if err := f.Feed(target); err != nil {
			return fmt.Errorf("%w: %T: %w", ErrConfigFeederError, f, err)
		}
	}
	if err := ProcessConfigDefaults(target); err != nil {
		return err
	}
	if err := ValidateConfigRequired(target); err != nil {
		return err
	}
	if v, ok := target.(ConfigValidator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}

// ProcessConfigDefaults applies `default:"value"` tags to zero fields.
//
//	type Config struct {
//	    Endpoint string        `default:"ServiceEndpoint"`
//	    Timeout  time.Duration `default:"30s"`
//	}
func ProcessConfigDefaults(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}
	return processStructDefaults(v)
}

func processStructDefaults(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := processStructDefaults(field); err != nil {
				return err
			}
			continue
		}

		// nil struct pointers stay nil
		if field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct {
			if !field.IsNil() {
				if err := processStructDefaults(field.Elem()); err != nil {
					return err
				}
			}
			continue
		}

		defaultVal, hasDefault := fieldType.Tag.Lookup(tagDefault)
		if !hasDefault || !isZeroValue(field) {
			continue
		}
		if err := setDefaultValue(field, defaultVal); err != nil {
			return fmt.Errorf("failed to set default value for %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

// ValidateConfigRequired reports every `required:"true"` field that is
// still zero.
func ValidateConfigRequired(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}

	var missing []string
	validateRequiredFields(v, "", &missing)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigRequiredMissing, strings.Join(missing, ", "))
	}
	return nil
}

func validateRequiredFields(v reflect.Value, prefix string, missing *[]string) {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		fieldName := fieldType.Name
		if prefix != "" {
			fieldName = prefix + "." + fieldName
		}

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			validateRequiredFields(field, fieldName, missing)
			continue
		}

		if field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct {
			if !field.IsNil() {
				validateRequiredFields(field.Elem(), fieldName, missing)
			} else if isFieldRequired(&fieldType) {
				*missing = append(*missing, fieldName)
			}
			continue
		}

		if isFieldRequired(&fieldType) && isZeroValue(field) {
			*missing = append(*missing, fieldName)
		}
	}
}

func structValue(cfg any) (reflect.Value, error) {
	if cfg == nil {
		return reflect.Value{}, ErrConfigNil
	}
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return reflect.Value{}, ErrConfigNotPointer
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, ErrConfigNotStruct
	}
	return v, nil
}

func isFieldRequired(field *reflect.StructField) bool {
	required, exists := field.Tag.Lookup(tagRequired)
	return exists && required == "true"
}

func isZeroValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	case reflect.Invalid:
		return true
	case reflect.Chan, reflect.Func, reflect.Struct, reflect.UnsafePointer:
		return false
	default:
		return v.IsZero()
	}
}

func setDefaultValue(field reflect.Value, defaultVal string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(defaultVal)
		if err != nil {
			return fmt.Errorf("%w: duration %q: %w", ErrDefaultValueParse, defaultVal, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(defaultVal)
	case reflect.Bool:
		b, err := strconv.ParseBool(defaultVal)
		if err != nil {
			return fmt.Errorf("%w: bool %q: %w", ErrDefaultValueParse, defaultVal, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(defaultVal, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: int %q: %w", ErrDefaultValueParse, defaultVal, err)
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(defaultVal, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: uint %q: %w", ErrDefaultValueParse, defaultVal, err)
		}
		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(defaultVal, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: float %q: %w", ErrDefaultValueParse, defaultVal, err)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("%w: %s", ErrUnsupportedDefaultType, field.Type())
		}
		parts := strings.Split(defaultVal, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			out = reflect.Append(out, reflect.ValueOf(strings.TrimSpace(p)).Convert(field.Type().Elem()))
		}
		field.Set(out)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDefaultType, field.Kind())
	}
	return nil
}
