package xisf

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// Matrix is a row-major two-dimensional array of property elements.
type Matrix[T any] struct {
	Rows int
	Cols int
	Data []T
}

// NewMatrix allocates a zero-filled rows x cols matrix.
func NewMatrix[T any](rows, cols int) Matrix[T] {
	return Matrix[T]{Rows: rows, Cols: cols, Data: make([]T, rows*cols)}
}

func (m Matrix[T]) At(row, col int) T { return m.Data[row*m.Cols+col] }

func (m Matrix[T]) Set(row, col int, v T) { m.Data[row*m.Cols+col] = v }

// Value is a type-tagged property value. The zero Value is invalid.
//
// Scalars hold the matching Go type (bool, int8 ... uint64, float32,
// float64, complex64 for Complex32, complex128 for Complex64). Vectors hold
// slices, matrices hold Matrix values, TimePoint holds a time.Time and both
// string types hold a Go string.
type Value struct {
	typ PropertyType
	v   any
}

// NewValue wraps v, inferring the property type from its Go type.
func NewValue(v any) (Value, error) {
	var t PropertyType
	switch v.(type) {
	case bool:
		t = TypeBoolean
	case int8:
		t = TypeInt8
	case int16:
		t = TypeInt16
	case int32:
		t = TypeInt32
	case int64:
		t = TypeInt64
	case uint8:
		t = TypeUInt8
	case uint16:
		t = TypeUInt16
	case uint32:
		t = TypeUInt32
	case uint64:
		t = TypeUInt64
	case float32:
		t = TypeFloat32
	case float64:
		t = TypeFloat64
	case complex64:
		t = TypeComplex32
	case complex128:
		t = TypeComplex64
	case string:
		t = TypeString
	case time.Time:
		t = TypeTimePoint
	case []int8:
		t = TypeI8Vector
	case []uint8:
		t = TypeUI8Vector
	case []int16:
		t = TypeI16Vector
	case []uint16:
		t = TypeUI16Vector
	case []int32:
		t = TypeI32Vector
	case []uint32:
		t = TypeUI32Vector
	case []int64:
		t = TypeI64Vector
	case []uint64:
		t = TypeUI64Vector
	case []float32:
		t = TypeF32Vector
	case []float64:
		t = TypeF64Vector
	case []complex64:
		t = TypeC32Vector
	case []complex128:
		t = TypeC64Vector
	case Matrix[int8]:
		t = TypeI8Matrix
	case Matrix[uint8]:
		t = TypeUI8Matrix
	case Matrix[int16]:
		t = TypeI16Matrix
	case Matrix[uint16]:
		t = TypeUI16Matrix
	case Matrix[int32]:
		t = TypeI32Matrix
	case Matrix[uint32]:
		t = TypeUI32Matrix
	case Matrix[int64]:
		t = TypeI64Matrix
	case Matrix[uint64]:
		t = TypeUI64Matrix
	case Matrix[float32]:
		t = TypeF32Matrix
	case Matrix[float64]:
		t = TypeF64Matrix
	case Matrix[complex64]:
		t = TypeC32Matrix
	case Matrix[complex128]:
		t = TypeC64Matrix
	default:
		return Value{}, fmt.Errorf("%w: unsupported value type %T", ErrInvalidProperty, v)
	}
	if t.IsMatrix() {
		r, c, n := matrixShape(v)
		if r < 1 || c < 1 || r*c != n {
			return Value{}, fmt.Errorf("%w: matrix %dx%d holds %d elements", ErrInvalidProperty, r, c, n)
		}
	}
	return Value{typ: t, v: v}, nil
}

// MustValue is like NewValue but panics on unsupported types.
func MustValue(v any) Value {
	val, err := NewValue(v)
	if err != nil {
		panic(err)
	}
	return val
}

// NewString16Value returns a String16 value. The text is stored as UTF-16
// when it travels in a data block.
func NewString16Value(s string) Value {
	return Value{typ: TypeString16, v: s}
}

func (v Value) Type() PropertyType { return v.typ }

func (v Value) IsValid() bool { return v.typ != TypeInvalid }

// Interface returns the underlying Go value.
func (v Value) Interface() any { return v.v }

// Dimensions returns nil for scalars and strings, the length for vectors and
// rows, columns for matrices.
func (v Value) Dimensions() []int {
	switch {
	case v.typ.IsVector():
		return []int{reflect.ValueOf(v.v).Len()}
	case v.typ.IsMatrix():
		r, c, _ := matrixShape(v.v)
		return []int{r, c}
	}
	return nil
}

// BlockSize is the length in bytes of the raw data block of a vector,
// matrix or string value.
func (v Value) BlockSize() int {
	switch {
	case v.typ.IsVector():
		return reflect.ValueOf(v.v).Len() * v.typ.elementSize()
	case v.typ.IsMatrix():
		_, _, n := matrixShape(v.v)
		return n * v.typ.elementSize()
	case v.typ == TypeString:
		return len(v.v.(string))
	case v.typ == TypeString16:
		return 2 * utf16Len(v.v.(string))
	}
	return 0
}

// Bytes returns the little-endian block encoding of a vector, matrix or
// string value. Strings are UTF-8, String16 values UTF-16LE.
func (v Value) Bytes() []byte {
	switch {
	case v.typ == TypeString:
		return []byte(v.v.(string))
	case v.typ == TypeString16:
		b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(v.v.(string)))
		if err != nil {
			return nil
		}
		return b
	case v.typ.IsVector():
		b, err := binary.Append(nil, binary.LittleEndian, v.v)
		if err != nil {
			return nil
		}
		return b
	case v.typ.IsMatrix():
		b, err := binary.Append(nil, binary.LittleEndian, matrixData(v.v))
		if err != nil {
			return nil
		}
		return b
	}
	return nil
}

// Equal reports whether both values have the same type and contents.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	if v.typ == TypeTimePoint {
		return v.v.(time.Time).Equal(o.v.(time.Time))
	}
	return reflect.DeepEqual(v.v, o.v)
}

// String formats the value as text: the XML attribute form for scalars,
// complex numbers and time points, the plain text for strings.
func (v Value) String() string {
	switch v.typ {
	case TypeInvalid:
		return "<invalid>"
	case TypeString, TypeString16:
		return v.v.(string)
	}
	if s, ok := v.attrString(); ok {
		return s
	}
	return fmt.Sprint(v.v)
}

// attrString is the XML value attribute form of scalar, complex and
// TimePoint values.
func (v Value) attrString() (string, bool) {
	switch x := v.v.(type) {
	case bool:
		return strconv.FormatBool(x), true
	case int8:
		return strconv.FormatInt(int64(x), 10), true
	case int16:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint8:
		return strconv.FormatUint(uint64(x), 10), true
	case uint16:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case complex64:
		return "(" + strconv.FormatFloat(float64(real(x)), 'g', -1, 32) + "," +
			strconv.FormatFloat(float64(imag(x)), 'g', -1, 32) + ")", true
	case complex128:
		return "(" + strconv.FormatFloat(real(x), 'g', -1, 64) + "," +
			strconv.FormatFloat(imag(x), 'g', -1, 64) + ")", true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	}
	return "", false
}

// parseScalarValue decodes the value attribute of a scalar property.
func parseScalarValue(t PropertyType, s string) (Value, error) {
	s = strings.TrimSpace(s)
	var (
		x   any
		err error
	)
	switch t {
	case TypeBoolean:
		x, err = parseBool(s)
	case TypeInt8:
		x, err = parseInt[int8](s, 8)
	case TypeInt16:
		x, err = parseInt[int16](s, 16)
	case TypeInt32:
		x, err = parseInt[int32](s, 32)
	case TypeInt64:
		x, err = parseInt[int64](s, 64)
	case TypeUInt8:
		x, err = parseUint[uint8](s, 8)
	case TypeUInt16:
		x, err = parseUint[uint16](s, 16)
	case TypeUInt32:
		x, err = parseUint[uint32](s, 32)
	case TypeUInt64:
		x, err = parseUint[uint64](s, 64)
	case TypeFloat32:
		var f float64
		f, err = strconv.ParseFloat(s, 32)
		x = float32(f)
	case TypeFloat64:
		x, err = strconv.ParseFloat(s, 64)
	case TypeComplex32, TypeComplex64:
		return parseComplexValue(t, s)
	case TypeTimePoint:
		x, err = parseTimePoint(s)
	default:
		return Value{}, fmt.Errorf("%w: invalid scalar property type '%s'", ErrInvalidProperty, t)
	}
	if err != nil {
		return Value{}, fmt.Errorf("%w: invalid %s value '%s'", ErrInvalidProperty, t, s)
	}
	return Value{typ: t, v: x}, nil
}

func parseBool(s string) (bool, error) {
	switch foldID(s) {
	case "true", "t", "1":
		return true, nil
	case "false", "f", "0":
		return false, nil
	}
	return false, strconv.ErrSyntax
}

func parseInt[T int8 | int16 | int32 | int64](s string, bits int) (T, error) {
	n, err := strconv.ParseInt(s, 10, bits)
	return T(n), err
}

// parseUint accepts the XISF 0x, 0b and 0o prefixes.
func parseUint[T uint8 | uint16 | uint32 | uint64](s string, bits int) (T, error) {
	base := 10
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'b', 'B':
			base = 2
		case 'o', 'O':
			base = 8
		}
		if base != 10 {
			s = s[2:]
		}
	}
	n, err := strconv.ParseUint(s, base, bits)
	return T(n), err
}

// parseComplexValue decodes a "(re,im)" literal.
func parseComplexValue(t PropertyType, s string) (Value, error) {
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return Value{}, fmt.Errorf("%w: invalid complex literal: '%s'", ErrInvalidProperty, s)
	}
	re, im, ok := strings.Cut(s[1:len(s)-1], ",")
	if !ok || strings.Contains(im, ",") {
		return Value{}, fmt.Errorf("%w: malformed complex literal: '%s'", ErrInvalidProperty, s)
	}
	bits := 64
	if t == TypeComplex32 {
		bits = 32
	}
	r, err1 := strconv.ParseFloat(strings.TrimSpace(re), bits)
	i, err2 := strconv.ParseFloat(strings.TrimSpace(im), bits)
	if err1 != nil || err2 != nil {
		return Value{}, fmt.Errorf("%w: malformed complex literal: '%s'", ErrInvalidProperty, s)
	}
	if t == TypeComplex32 {
		return Value{typ: t, v: complex(float32(r), float32(i))}, nil
	}
	return Value{typ: t, v: complex(r, i)}, nil
}

var timePointLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTimePoint accepts ISO 8601 date and time representations. Times
// without a zone designator are UTC.
func parseTimePoint(s string) (time.Time, error) {
	for _, layout := range timePointLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO 8601 time point '%s'", s)
}

// decodeBlockValue materializes a vector, matrix or string value from its
// little-endian block bytes. dims holds the declared vector length or
// matrix rows and columns.
func decodeBlockValue(t PropertyType, dims []int, b []byte) (Value, error) {
	switch {
	case t == TypeString:
		return Value{typ: t, v: string(b)}, nil
	case t == TypeString16:
		if len(b)%2 != 0 {
			return Value{}, fmt.Errorf("%w: odd UTF-16 block size %d", ErrCorruptFile, len(b))
		}
		s, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrCorruptFile, err)
		}
		return Value{typ: t, v: string(s)}, nil
	case t.IsVector():
		if len(dims) != 1 || dims[0] < 0 {
			return Value{}, fmt.Errorf("%w: invalid vector length", ErrInvalidProperty)
		}
		if want := dims[0] * t.elementSize(); want != len(b) {
			return Value{}, fmt.Errorf("%w: inconsistent block size %d, expected %d", ErrCorruptFile, len(b), want)
		}
		v := newVector(t, dims[0])
		if _, err := binary.Decode(b, binary.LittleEndian, v); err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrCorruptFile, err)
		}
		return Value{typ: t, v: reflect.ValueOf(v).Elem().Interface()}, nil
	case t.IsMatrix():
		if len(dims) != 2 || dims[0] < 0 || dims[1] < 0 {
			return Value{}, fmt.Errorf("%w: invalid matrix dimensions", ErrInvalidProperty)
		}
		n := dims[0] * dims[1]
		if want := n * t.elementSize(); want != len(b) {
			return Value{}, fmt.Errorf("%w: inconsistent block size %d, expected %d", ErrCorruptFile, len(b), want)
		}
		v := newVector(t-TypeI8Matrix+TypeI8Vector, n)
		if _, err := binary.Decode(b, binary.LittleEndian, v); err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrCorruptFile, err)
		}
		return Value{typ: t, v: makeMatrix(reflect.ValueOf(v).Elem().Interface(), dims[0], dims[1])}, nil
	}
	return Value{}, fmt.Errorf("%w: invalid data type '%s'", ErrInvalidProperty, t)
}

// newVector returns a pointer to a zeroed slice of n elements of vector
// type t, ready for binary.Decode.
func newVector(t PropertyType, n int) any {
	switch t {
	case TypeI8Vector:
		s := make([]int8, n)
		return &s
	case TypeUI8Vector:
		s := make([]uint8, n)
		return &s
	case TypeI16Vector:
		s := make([]int16, n)
		return &s
	case TypeUI16Vector:
		s := make([]uint16, n)
		return &s
	case TypeI32Vector:
		s := make([]int32, n)
		return &s
	case TypeUI32Vector:
		s := make([]uint32, n)
		return &s
	case TypeI64Vector:
		s := make([]int64, n)
		return &s
	case TypeUI64Vector:
		s := make([]uint64, n)
		return &s
	case TypeF32Vector:
		s := make([]float32, n)
		return &s
	case TypeF64Vector:
		s := make([]float64, n)
		return &s
	case TypeC32Vector:
		s := make([]complex64, n)
		return &s
	case TypeC64Vector:
		s := make([]complex128, n)
		return &s
	}
	return nil
}

func makeMatrix(data any, rows, cols int) any {
	switch d := data.(type) {
	case []int8:
		return Matrix[int8]{rows, cols, d}
	case []uint8:
		return Matrix[uint8]{rows, cols, d}
	case []int16:
		return Matrix[int16]{rows, cols, d}
	case []uint16:
		return Matrix[uint16]{rows, cols, d}
	case []int32:
		return Matrix[int32]{rows, cols, d}
	case []uint32:
		return Matrix[uint32]{rows, cols, d}
	case []int64:
		return Matrix[int64]{rows, cols, d}
	case []uint64:
		return Matrix[uint64]{rows, cols, d}
	case []float32:
		return Matrix[float32]{rows, cols, d}
	case []float64:
		return Matrix[float64]{rows, cols, d}
	case []complex64:
		return Matrix[complex64]{rows, cols, d}
	case []complex128:
		return Matrix[complex128]{rows, cols, d}
	}
	return nil
}

// matrixShape returns the rows, columns and element count of a Matrix
// value of any element type.
func matrixShape(m any) (rows, cols, n int) {
	rv := reflect.ValueOf(m)
	return int(rv.FieldByName("Rows").Int()), int(rv.FieldByName("Cols").Int()), rv.FieldByName("Data").Len()
}

func matrixData(m any) any {
	return reflect.ValueOf(m).FieldByName("Data").Interface()
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// finite reports whether x is neither NaN nor infinite.
func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
