// Package config loads node configuration from YAML files and environment
// variables.
//
// Environment variable names follow the pattern:
//
//	{Prefix}_{STAGE}_{FIELD}
//
// For named nested structs, the field name becomes a path segment:
//
//	{Prefix}_{STAGE}_{STRUCT}_{FIELD}
//
// Anonymous (embedded) struct fields are flattened and do not add a segment.
//
// Go field names are converted from CamelCase to UPPER_SNAKE_CASE:
//
//	SendQueueCapacity → SEND_QUEUE_CAPACITY
//	RetryMaxDelay     → RETRY_MAX_DELAY
//	URL               → URL
//
// Supported field types: string, bool, int*, uint*, float*, time.Duration and
// []string. Slices are read as comma-separated lists with surrounding spaces
// trimmed. Fields with other types (functions, interfaces, channels,
// pointers) are skipped.
//
// Example with transport.Config and stage "transport":
//
//	MTS_TRANSPORT_MAX_ATTEMPTS=5
//	MTS_TRANSPORT_RETRY_DELAY=250ms
//	MTS_TRANSPORT_ASPECTS=trace,stats,dedupe
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DefaultPrefix is the prefix used when Loader.Prefix is empty.
const DefaultPrefix = "MTS"

var (
	durationType    = reflect.TypeOf(time.Duration(0))
	stringSliceType = reflect.TypeOf([]string(nil))
)

// Loader reads environment variables into configuration structs.
type Loader struct {
	// Prefix for environment variable names.
	// Default: "MTS".
	Prefix string

	// lookup overrides os.LookupEnv for testing.
	lookup func(string) (string, bool)
}

func (l Loader) prefix() string {
	if l.Prefix == "" {
		return DefaultPrefix
	}
	return l.Prefix
}

func (l Loader) lookupEnv(key string) (string, bool) {
	if l.lookup != nil {
		return l.lookup(key)
	}
	return os.LookupEnv(key)
}

// Load populates the struct pointed to by dst with values from environment
// variables. The stage parameter names the component being configured and
// becomes the second segment of the variable name.
//
// Only fields with set environment variables are modified. All other fields
// keep their current values, so Load overlays the environment on top of
// defaults or a file loaded with [LoadFile].
func (l Loader) Load(stage string, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: dst must be a pointer to a struct, got %T", dst)
	}
	return l.loadStruct(l.stagePrefix(stage), v.Elem())
}

// Keys returns the environment variable names that [Loader.Load] would check
// for the given config struct. The dst parameter may be a struct value or a
// pointer to a struct.
func (l Loader) Keys(stage string, dst any) []string {
	v := reflect.ValueOf(dst)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return collectKeys(l.stagePrefix(stage), v.Type())
}

func (l Loader) stagePrefix(stage string) string {
	if s := normalizeStage(stage); s != "" {
		return l.prefix() + "_" + s
	}
	return l.prefix()
}

// Load populates dst using the default Loader with prefix "MTS".
func Load(stage string, dst any) error {
	return Loader{}.Load(stage, dst)
}

// Keys returns env var names using the default Loader with prefix "MTS".
func Keys(stage string, dst any) []string {
	return Loader{}.Keys(stage, dst)
}

func (l Loader) loadStruct(prefix string, v reflect.Value) error {
	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		fv := v.Field(i)

		if !field.IsExported() {
			if field.Anonymous && field.Type.Kind() == reflect.Struct {
				if err := l.loadStruct(prefix, fv); err != nil {
					return err
				}
			}
			continue
		}

		key := fieldKey(prefix, field)

		switch {
		case field.Type == durationType:
			raw, ok := l.lookupEnv(key)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			fv.SetInt(int64(d))
		case field.Type.Kind() == reflect.Struct:
			if err := l.loadStruct(key, fv); err != nil {
				return err
			}
		case isSupported(field.Type):
			raw, ok := l.lookupEnv(key)
			if !ok {
				continue
			}
			if err := setField(fv, raw, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func collectKeys(prefix string, t reflect.Type) []string {
	var keys []string
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			if field.Anonymous && field.Type.Kind() == reflect.Struct {
				keys = append(keys, collectKeys(prefix, field.Type)...)
			}
			continue
		}

		key := fieldKey(prefix, field)
		switch {
		case field.Type == durationType:
			keys = append(keys, key)
		case field.Type.Kind() == reflect.Struct:
			keys = append(keys, collectKeys(key, field.Type)...)
		case isSupported(field.Type):
			keys = append(keys, key)
		}
	}
	return keys
}

// fieldKey flattens embedded structs and adds a segment for named fields.
func fieldKey(prefix string, field reflect.StructField) string {
	if field.Anonymous {
		return prefix
	}
	return prefix + "_" + toUpperSnake(field.Name)
}

func isSupported(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.String
	}
	return false
}

func setField(v reflect.Value, raw, key string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetBool(b)
	case reflect.Slice:
		items := splitList(raw)
		s := reflect.MakeSlice(v.Type(), len(items), len(items))
		for i, item := range items {
			s.Index(i).SetString(item)
		}
		v.Set(s)
	}
	return nil
}

// splitList splits a comma-separated list. Empty items are dropped, so an
// empty variable clears the list.
func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// normalizeStage converts a stage name to a valid env var segment.
// Lowercase letters are uppercased, hyphens/spaces/underscores become
// underscores, and other characters are dropped.
func normalizeStage(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(unicode.ToUpper(r))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '_':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// toUpperSnake converts a Go CamelCase field name to UPPER_SNAKE_CASE.
//
//	SendQueueCapacity → SEND_QUEUE_CAPACITY
//	URLPath           → URL_PATH
//	MaxBodySize       → MAX_BODY_SIZE
func toUpperSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteRune('_')
			} else if unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
