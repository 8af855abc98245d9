package config

import (
	"fmt"
	"reflect"
	"sort"
)

// Describe flattens a loaded config into env-var name → value pairs.
// Values are rendered with %v, so types whose String method redacts
// (such as client Secret types) stay redacted. Fields without an env tag
// are omitted.
func Describe(cfg any, prefix string) []Entry {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	var out []Entry
	_ = walk(rv, prefix, func(field reflect.Value, _ reflect.StructField, envName string) error {
		if envName == "" {
			return nil
		}
		var v any = field.Interface()
		if s, ok := v.(fmt.Stringer); ok {
			v = s.String()
		}
		out = append(out, Entry{Name: envName, Value: fmt.Sprintf("%v", v)})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Entry is one resolved setting.
type Entry struct {
	Name  string
	Value string
}
