package conduit

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

// ErrKeyCollision is returned when two leaves of the parameters flatten to
// the same key, e.g. for Params{"a": []string{"x"}, "a[0]": "y"}.
var ErrKeyCollision = errors.New("flattened parameter keys collide")

// Params are the nested parameters of a Conduit call.
type Params map[string]interface{}

// FlattenParams expands nested maps and slices into the flat form the
// Conduit API accepts. A map value below key k contributes keys
// "k[childKey]", a slice element "k[index]". Scalar leaves are formatted as
// strings; nil values and empty containers produce no keys. Every leaf gets
// its own key, ErrKeyCollision is returned otherwise.
func FlattenParams(params Params) (map[string]string, error) {
	flat := make(map[string]string)
	for key, value := range params {
		if err := flatten(flat, key, reflect.ValueOf(value)); err != nil {
			return nil, err
		}
	}
	return flat, nil
}

func flatten(flat map[string]string, key string, v reflect.Value) error {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := flatten(flat, fmt.Sprintf("%s[%s]", key, scalar(iter.Key())), iter.Value()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return setLeaf(flat, key, string(bytesOf(v)))
		}
		for i := 0; i < v.Len(); i++ {
			if err := flatten(flat, key+"["+strconv.Itoa(i)+"]", v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	default:
		return setLeaf(flat, key, scalar(v))
	}
}

func setLeaf(flat map[string]string, key, value string) error {
	if _, ok := flat[key]; ok {
		return fmt.Errorf("%q: %w", key, ErrKeyCollision)
	}
	flat[key] = value
	return nil
}

func bytesOf(v reflect.Value) []byte {
	if v.Kind() == reflect.Slice {
		return v.Bytes()
	}
	b := make([]byte, v.Len())
	reflect.Copy(reflect.ValueOf(b), v)
	return b
}

func scalar(v reflect.Value) string {
	if v.CanInterface() {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
	}

	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	default:
		return fmt.Sprint(v.Interface())
	}
}
