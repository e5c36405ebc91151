package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-leadrelay/core"
)

var durationType = reflect.TypeOf(time.Duration(0))

// coerceLayer converts the string and numeric leaves produced by env and YAML
// sources into the Go types of the matching core.Config fields. Unknown keys
// are rejected so a typo does not silently fall back to a default.
func coerceLayer(raw map[string]any) (map[string]any, error) {
	return coerceStruct(reflect.TypeOf(core.Config{}), raw, "")
}

func coerceStruct(structType reflect.Type, raw map[string]any, prefix string) (map[string]any, error) {
	fields := map[string]reflect.StructField{}
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		key := strings.Split(field.Tag.Get("koanf"), ",")[0]
		if key != "" && key != "-" {
			fields[key] = field
		}
	}

	out := make(map[string]any, len(raw))
	for key, value := range raw {
		name := strings.ToLower(strings.TrimSpace(key))
		path := joinKey(prefix, name)
		field, ok := fields[name]
		if !ok {
			return nil, core.NewConfigError(fmt.Sprintf("config: unknown key %s", path))
		}
		if field.Type.Kind() == reflect.Struct {
			nested, ok := value.(map[string]any)
			if !ok {
				return nil, core.NewConfigError(fmt.Sprintf("config: %s must be a mapping", path))
			}
			converted, err := coerceStruct(field.Type, nested, path)
			if err != nil {
				return nil, err
			}
			out[name] = converted
			continue
		}
		converted, err := coerceValue(field.Type, value)
		if err != nil {
			return nil, core.NewConfigError(fmt.Sprintf("config: %s: %v", path, err))
		}
		out[name] = converted
	}
	return out, nil
}

func coerceValue(target reflect.Type, value any) (any, error) {
	text := strings.TrimSpace(fmt.Sprint(value))
	switch {
	case target == durationType:
		switch v := value.(type) {
		case time.Duration:
			return v, nil
		case int:
			return time.Duration(v) * time.Second, nil
		}
		return time.ParseDuration(text)
	case target.Kind() == reflect.String:
		return text, nil
	case target.Kind() == reflect.Bool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
		return strconv.ParseBool(text)
	case target.Kind() == reflect.Int:
		if v, ok := value.(int); ok {
			return v, nil
		}
		return strconv.Atoi(text)
	case target.Kind() == reflect.Int64:
		if v, ok := value.(int); ok {
			return int64(v), nil
		}
		return strconv.ParseInt(text, 10, 64)
	}
	return nil, fmt.Errorf("unsupported field type %s", target)
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
