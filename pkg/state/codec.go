package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"klbot/pkg/faults"

	"github.com/go-viper/mapstructure/v2"
)

// ExportStatus returns every status field, hidden ones included.
func ExportStatus(h Holder) map[string]any {
	return export(h, func(f Field) bool { return f.Tag == TagStatus })
}

// VisibleStatus returns the status fields meant for human listings.
func VisibleStatus(h Holder) map[string]any {
	return export(h, func(f Field) bool { return f.Tag == TagStatus && !f.Hidden })
}

// ExportSetup returns every setup field.
func ExportSetup(h Holder) map[string]any {
	return export(h, func(f Field) bool { return f.Tag == TagSetup })
}

func export(h Holder, keep func(Field) bool) map[string]any {
	out := make(map[string]any)
	for _, field := range h.Fields() {
		if keep(field) {
			out[field.Name] = field.value()
		}
	}

	return out
}

// Snapshot encodes the status mapping as canonical JSON. Two snapshots of equal
// status compare equal byte for byte.
func Snapshot(h Holder) ([]byte, error) {
	data, err := json.Marshal(ExportStatus(h))
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}

	return data, nil
}

// ImportFields assigns values to the declared fields with matching names.
//
// Keys with no matching field are reported as warnings. Fields without a key
// keep their value. A nil value is only accepted by nullable kinds; numbers are
// coerced to the declared numeric kind when that is lossless; structured values
// are rebuilt into the declared type.
func ImportFields(h Holder, values map[string]any) ([]string, error) {
	fields := make(map[string]Field)
	for _, field := range h.Fields() {
		fields[field.Name] = field
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var warnings []string
	for _, key := range keys {
		field, ok := fields[key]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("no field named %q", key))
			continue
		}

		if err := assign(field.target(), values[key]); err != nil {
			return warnings, faults.Wrap(faults.KindModuleSetup, "", fmt.Sprintf("field %q", key), err)
		}
	}

	return warnings, nil
}

// LoadJSON decodes a JSON object and imports it.
func LoadJSON(h Holder, data []byte) ([]string, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var values map[string]any
	if err := decoder.Decode(&values); err != nil {
		return nil, fmt.Errorf("decode state document: %w", err)
	}

	normalized, _ := normalizeNumbers(values).(map[string]any)
	return ImportFields(h, normalized)
}

func assign(target reflect.Value, raw any) error {
	if raw == nil {
		switch target.Kind() {
		case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
			target.SetZero()
			return nil
		default:
			return fmt.Errorf("null value for non-nullable %s", target.Type())
		}
	}

	value := reflect.ValueOf(raw)
	if value.Type().AssignableTo(target.Type()) {
		target.Set(value)
		return nil
	}

	if isNumeric(value.Kind()) && isNumeric(target.Kind()) {
		return assignNumber(target, value)
	}

	return decodeInto(target, raw)
}

func isNumeric(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func assignNumber(target reflect.Value, value reflect.Value) error {
	switch target.Kind() {
	case reflect.Float32, reflect.Float64:
		f := numberAsFloat(value)
		if target.OverflowFloat(f) {
			return fmt.Errorf("%v overflows %s", f, target.Type())
		}
		target.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := numberAsInt(value)
		if err != nil {
			return err
		}
		if target.OverflowInt(n) {
			return fmt.Errorf("%d overflows %s", n, target.Type())
		}
		target.SetInt(n)
	default:
		n, err := numberAsUint(value)
		if err != nil {
			return err
		}
		if target.OverflowUint(n) {
			return fmt.Errorf("%d overflows %s", n, target.Type())
		}
		target.SetUint(n)
	}

	return nil
}

func numberAsFloat(value reflect.Value) float64 {
	switch {
	case value.CanInt():
		return float64(value.Int())
	case value.CanUint():
		return float64(value.Uint())
	default:
		return value.Float()
	}
}

func numberAsInt(value reflect.Value) (int64, error) {
	switch {
	case value.CanInt():
		return value.Int(), nil
	case value.CanUint():
		u := value.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d is out of range", u)
		}
		return int64(u), nil
	default:
		f := value.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
		return int64(f), nil
	}
}

func numberAsUint(value reflect.Value) (uint64, error) {
	switch {
	case value.CanInt():
		n := value.Int()
		if n < 0 {
			return 0, fmt.Errorf("%d is negative", n)
		}
		return uint64(n), nil
	case value.CanUint():
		return value.Uint(), nil
	default:
		f := value.Float()
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
			return 0, fmt.Errorf("%v is not an unsigned integer", f)
		}
		return uint64(f), nil
	}
}

func decodeInto(target reflect.Value, raw any) error {
	fresh := reflect.New(target.Type())
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  fresh.Interface(),
		TagName: "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("cannot rebuild %s: %w", target.Type(), err)
	}

	target.Set(fresh.Elem())
	return nil
}

func normalizeNumbers(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		if u, err := strconv.ParseUint(typed.String(), 10, 64); err == nil {
			return u
		}
		f, _ := typed.Float64()
		return f
	case map[string]any:
		for key, item := range typed {
			typed[key] = normalizeNumbers(item)
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = normalizeNumbers(item)
		}
		return typed
	default:
		return value
	}
}
