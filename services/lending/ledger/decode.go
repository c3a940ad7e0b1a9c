package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	errFieldMissing = errors.New("field missing")
	errFloat        = errors.New("floating point values are not accepted")
)

// unwrap returns the value to look fields up on. A single composite output is
// the record itself; anything else is treated as a positional tuple.
func unwrap(out []any) any {
	if len(out) == 1 && isComposite(out[0]) {
		return out[0]
	}
	return out
}

func isComposite(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return true
	case []byte, *big.Int, *uint256.Int, common.Address:
		return false
	}
	rv := reflect.Indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Struct, reflect.Slice, reflect.Map:
		return rv.Type() != reflect.TypeOf(big.Int{}) && rv.Type() != reflect.TypeOf(uint256.Int{})
	}
	return false
}

// field looks a value up positionally on tuple-like records and by name on
// struct or map records. Names match field names or json tags, ignoring case.
func field(record any, index int, names ...string) (any, bool) {
	switch t := record.(type) {
	case nil:
		return nil, false
	case []any:
		if index >= 0 && index < len(t) && t[index] != nil {
			return t[index], true
		}
		return nil, false
	case map[string]any:
		if value, ok := lookupKey(t, names); ok {
			return value, true
		}
		if value, ok := t[strconv.Itoa(index)]; ok && value != nil {
			return value, true
		}
		return nil, false
	}
	rv := reflect.ValueOf(record)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		rt := rv.Type()
		for _, name := range names {
			for i := 0; i < rt.NumField(); i++ {
				f := rt.Field(i)
				if !f.IsExported() {
					continue
				}
				tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
				if strings.EqualFold(f.Name, name) || (tag != "" && strings.EqualFold(tag, name)) {
					return rv.Field(i).Interface(), true
				}
			}
		}
	case reflect.Slice, reflect.Array:
		if index >= 0 && index < rv.Len() {
			return rv.Index(index).Interface(), true
		}
	}
	return nil, false
}

func asRaw(v any) (*uint256.Int, error) {
	switch t := v.(type) {
	case *uint256.Int:
		if t == nil {
			return nil, errFieldMissing
		}
		return new(uint256.Int).Set(t), nil
	case uint256.Int:
		return new(uint256.Int).Set(&t), nil
	case *big.Int:
		if t == nil {
			return nil, errFieldMissing
		}
		return fromBig(t)
	case big.Int:
		return fromBig(&t)
	case uint64:
		return uint256.NewInt(t), nil
	case uint32:
		return uint256.NewInt(uint64(t)), nil
	case uint16:
		return uint256.NewInt(uint64(t)), nil
	case uint8:
		return uint256.NewInt(uint64(t)), nil
	case uint:
		return uint256.NewInt(uint64(t)), nil
	case int64:
		return fromInt(t)
	case int32:
		return fromInt(int64(t))
	case int:
		return fromInt(int64(t))
	case float32, float64:
		return nil, errFloat
	case json.Number:
		return parseInteger(string(t))
	case string:
		return parseInteger(t)
	}
	return nil, fmt.Errorf("unsupported amount type %T", v)
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("value exceeds 256 bits")
	}
	return out, nil
}

func fromInt(v int64) (*uint256.Int, error) {
	if v < 0 {
		return nil, fmt.Errorf("negative value %d", v)
	}
	return uint256.NewInt(uint64(v)), nil
}

func parseInteger(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, errFieldMissing
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		value, ok := new(big.Int).SetString(trimmed[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex value %q", trimmed)
		}
		return fromBig(value)
	}
	if strings.ContainsAny(trimmed, ".eE") {
		return nil, errFloat
	}
	out, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q: %w", trimmed, err)
	}
	return out, nil
}

func asUint64(v any) (uint64, error) {
	raw, err := asRaw(v)
	if err != nil {
		return 0, err
	}
	if !raw.IsUint64() {
		return 0, fmt.Errorf("value %s exceeds 64 bits", raw.Dec())
	}
	return raw.Uint64(), nil
}

func asBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("invalid boolean %q", t)
		}
		return parsed, nil
	}
	raw, err := asRaw(v)
	if err != nil {
		return false, err
	}
	if raw.GtUint64(1) {
		return false, fmt.Errorf("invalid boolean %s", raw.Dec())
	}
	return !raw.IsZero(), nil
}

func asAddress(v any) (common.Address, error) {
	switch t := v.(type) {
	case common.Address:
		return t, nil
	case *common.Address:
		if t == nil {
			return common.Address{}, errFieldMissing
		}
		return *t, nil
	case [20]byte:
		return common.Address(t), nil
	case string:
		trimmed := strings.TrimSpace(t)
		if !common.IsHexAddress(trimmed) {
			return common.Address{}, fmt.Errorf("invalid address %q", t)
		}
		return common.HexToAddress(trimmed), nil
	}
	return common.Address{}, fmt.Errorf("unsupported address type %T", v)
}

func asList(v any) ([]any, error) {
	if list, ok := v.([]any); ok {
		return list, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// fieldSpec names one value inside a record.
type fieldSpec struct {
	index int
	names []string
}

func rawField(record any, path string, spec fieldSpec) (*uint256.Int, error) {
	value, ok := field(record, spec.index, spec.names...)
	if !ok {
		return nil, readError(path, errFieldMissing)
	}
	raw, err := asRaw(value)
	if err != nil {
		return nil, readError(path, err)
	}
	return raw, nil
}

func uint64Field(record any, path string, spec fieldSpec) (uint64, error) {
	value, ok := field(record, spec.index, spec.names...)
	if !ok {
		return 0, readError(path, errFieldMissing)
	}
	out, err := asUint64(value)
	if err != nil {
		return 0, readError(path, err)
	}
	return out, nil
}

func addressField(record any, path string, spec fieldSpec) (common.Address, error) {
	value, ok := field(record, spec.index, spec.names...)
	if !ok {
		return common.Address{}, readError(path, errFieldMissing)
	}
	out, err := asAddress(value)
	if err != nil {
		return common.Address{}, readError(path, err)
	}
	return out, nil
}

// singleRaw decodes a call with exactly one numeric output.
func singleRaw(out []any, path string) (*uint256.Int, error) {
	if len(out) == 0 {
		return nil, readError(path, errFieldMissing)
	}
	value := out[0]
	if isComposite(value) {
		inner, ok := field(value, 0, "value", "amount", "result")
		if !ok {
			return nil, readError(path, errFieldMissing)
		}
		value = inner
	}
	raw, err := asRaw(value)
	if err != nil {
		return nil, readError(path, err)
	}
	return raw, nil
}

// lookupKey resolves names in priority order. An exact key wins over a
// case-insensitive one; among case-insensitive matches the lowest key wins.
func lookupKey(record map[string]any, names []string) (any, bool) {
	var keys []string
	for _, name := range names {
		if value, ok := record[name]; ok && value != nil {
			return value, true
		}
		if keys == nil {
			keys = make([]string, 0, len(record))
			for key := range record {
				keys = append(keys, key)
			}
			sort.Strings(keys)
		}
		for _, key := range keys {
			if value := record[key]; value != nil && strings.EqualFold(key, name) {
				return value, true
			}
		}
	}
	return nil, false
}
