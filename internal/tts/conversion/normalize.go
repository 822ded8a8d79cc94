package conversion

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// maxNormalizeDepth bounds recursion through nested containers.
const maxNormalizeDepth = 8

// namedValue picks the conventional "name" field out of a structured value.
// mapstructure matches the key case-insensitively.
type namedValue struct {
	Name any `mapstructure:"name"`
}

// NormalizeModelName extracts a model identifier from whatever an upstream
// caller passed. Strings are trimmed; maps and structs yield their "name"
// field, else their first value; slices yield their first element; errors
// yield their message; anything else is formatted with fmt. The second result is false when no usable name
// exists. It never panics and is idempotent on its own output.
func NormalizeModelName(value any) (name string, ok bool) {
	defer func() {
		if recover() != nil {
			name, ok = "", false
		}
	}()

	return normalize(value, 0)
}

func normalize(value any, depth int) (string, bool) {
	if value == nil || depth > maxNormalizeDepth {
		return "", false
	}

	switch typed := value.(type) {
	case string:
		return trimmed(typed)
	case []byte:
		return trimmed(string(typed))
	case error:
		return trimmed(typed.Error())
	case fmt.Stringer:
		return trimmed(typed.String())
	}

	reflected := reflect.ValueOf(value)

	switch reflected.Kind() {
	case reflect.Pointer, reflect.Interface:
		if reflected.IsNil() {
			return "", false
		}

		return normalize(reflected.Elem().Interface(), depth+1)
	case reflect.Map:
		return normalizeMap(value, reflected, depth)
	case reflect.Struct:
		return normalizeStruct(value, reflected, depth)
	case reflect.Slice, reflect.Array:
		if reflected.Len() == 0 {
			return "", false
		}

		return normalize(reflected.Index(0).Interface(), depth+1)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "", false
	default:
		return trimmed(fmt.Sprint(value))
	}
}

func normalizeMap(value any, reflected reflect.Value, depth int) (string, bool) {
	if reflected.Len() == 0 {
		return "", false
	}

	if reflected.Type().Key().Kind() == reflect.String {
		var named namedValue

		err := mapstructure.Decode(value, &named)
		if err == nil && named.Name != nil {
			if name, ok := normalize(named.Name, depth+1); ok {
				return name, true
			}
		}
	}

	keys := reflected.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})

	return normalize(reflected.MapIndex(keys[0]).Interface(), depth+1)
}

func normalizeStruct(value any, reflected reflect.Value, depth int) (string, bool) {
	var named namedValue

	err := mapstructure.Decode(value, &named)
	if err == nil && named.Name != nil {
		if name, ok := normalize(named.Name, depth+1); ok {
			return name, true
		}
	}

	for index := range reflected.NumField() {
		if reflected.Type().Field(index).IsExported() {
			return normalize(reflected.Field(index).Interface(), depth+1)
		}
	}

	return "", false
}

func trimmed(value string) (string, bool) {
	value = strings.TrimSpace(value)

	return value, value != ""
}
