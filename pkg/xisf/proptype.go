package xisf

import "fmt"

// PropertyType is the type tag of an XISF property value.
type PropertyType uint8

const (
	TypeInvalid PropertyType = iota

	TypeBoolean
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUInt8
	TypeUInt16
	TypeUInt32
	TypeUInt64
	TypeFloat32
	TypeFloat64
	TypeComplex32
	TypeComplex64

	TypeI8Vector
	TypeUI8Vector
	TypeI16Vector
	TypeUI16Vector
	TypeI32Vector
	TypeUI32Vector
	TypeI64Vector
	TypeUI64Vector
	TypeF32Vector
	TypeF64Vector
	TypeC32Vector
	TypeC64Vector

	TypeI8Matrix
	TypeUI8Matrix
	TypeI16Matrix
	TypeUI16Matrix
	TypeI32Matrix
	TypeUI32Matrix
	TypeI64Matrix
	TypeUI64Matrix
	TypeF32Matrix
	TypeF64Matrix
	TypeC32Matrix
	TypeC64Matrix

	TypeString
	TypeString16
	TypeTimePoint

	numPropertyTypes
)

var propertyTypeIDs = [numPropertyTypes]string{
	TypeBoolean:    "Boolean",
	TypeInt8:       "Int8",
	TypeInt16:      "Int16",
	TypeInt32:      "Int32",
	TypeInt64:      "Int64",
	TypeUInt8:      "UInt8",
	TypeUInt16:     "UInt16",
	TypeUInt32:     "UInt32",
	TypeUInt64:     "UInt64",
	TypeFloat32:    "Float32",
	TypeFloat64:    "Float64",
	TypeComplex32:  "Complex32",
	TypeComplex64:  "Complex64",
	TypeI8Vector:   "I8Vector",
	TypeUI8Vector:  "UI8Vector",
	TypeI16Vector:  "I16Vector",
	TypeUI16Vector: "UI16Vector",
	TypeI32Vector:  "I32Vector",
	TypeUI32Vector: "UI32Vector",
	TypeI64Vector:  "I64Vector",
	TypeUI64Vector: "UI64Vector",
	TypeF32Vector:  "F32Vector",
	TypeF64Vector:  "F64Vector",
	TypeC32Vector:  "C32Vector",
	TypeC64Vector:  "C64Vector",
	TypeI8Matrix:   "I8Matrix",
	TypeUI8Matrix:  "UI8Matrix",
	TypeI16Matrix:  "I16Matrix",
	TypeUI16Matrix: "UI16Matrix",
	TypeI32Matrix:  "I32Matrix",
	TypeUI32Matrix: "UI32Matrix",
	TypeI64Matrix:  "I64Matrix",
	TypeUI64Matrix: "UI64Matrix",
	TypeF32Matrix:  "F32Matrix",
	TypeF64Matrix:  "F64Matrix",
	TypeC32Matrix:  "C32Matrix",
	TypeC64Matrix:  "C64Matrix",
	TypeString:     "String",
	TypeString16:   "String16",
	TypeTimePoint:  "TimePoint",
}

// Spelling aliases accepted on input, keyed by case-folded id.
var propertyTypeAliases = map[string]PropertyType{
	"short":      TypeInt16,
	"int":        TypeInt32,
	"byte":       TypeUInt8,
	"ushort":     TypeUInt16,
	"uint":       TypeUInt32,
	"float":      TypeFloat32,
	"double":     TypeFloat64,
	"complex":    TypeComplex64,
	"bytearray":  TypeUI8Vector,
	"bytevector": TypeUI8Vector,
	"ivector":    TypeI32Vector,
	"uivector":   TypeUI32Vector,
	"vector":     TypeF64Vector,
	"bytematrix": TypeUI8Matrix,
	"imatrix":    TypeI32Matrix,
	"uimatrix":   TypeUI32Matrix,
	"matrix":     TypeF64Matrix,
	"string8":    TypeString,
}

var propertyTypesByID = func() map[string]PropertyType {
	m := make(map[string]PropertyType, len(propertyTypeIDs)+len(propertyTypeAliases))
	for t, id := range propertyTypeIDs {
		if id != "" {
			m[foldID(id)] = PropertyType(t)
		}
	}
	for alias, t := range propertyTypeAliases {
		m[alias] = t
	}
	return m
}()

// ParsePropertyType maps a canonical type id or one of its aliases to a
// PropertyType. Matching is case-insensitive.
func ParsePropertyType(id string) (PropertyType, error) {
	if t, ok := propertyTypesByID[foldID(id)]; ok {
		return t, nil
	}
	return TypeInvalid, fmt.Errorf("%w: invalid/unsupported property type '%s'", ErrInvalidProperty, id)
}

// String returns the canonical type id.
func (t PropertyType) String() string {
	if t >= numPropertyTypes || propertyTypeIDs[t] == "" {
		return fmt.Sprintf("PropertyType(%d)", uint8(t))
	}
	return propertyTypeIDs[t]
}

// IsScalar reports boolean, integer and real floating point types.
func (t PropertyType) IsScalar() bool { return t >= TypeBoolean && t <= TypeFloat64 }

func (t PropertyType) IsComplex() bool { return t == TypeComplex32 || t == TypeComplex64 }

func (t PropertyType) IsVector() bool { return t >= TypeI8Vector && t <= TypeC64Vector }

func (t PropertyType) IsMatrix() bool { return t >= TypeI8Matrix && t <= TypeC64Matrix }

func (t PropertyType) IsString() bool { return t == TypeString || t == TypeString16 }

// elementSize is the size in bytes of one vector or matrix element.
func (t PropertyType) elementSize() int {
	var base PropertyType
	switch {
	case t.IsVector():
		base = t - TypeI8Vector
	case t.IsMatrix():
		base = t - TypeI8Matrix
	default:
		return 0
	}
	// I8 UI8 I16 UI16 I32 UI32 I64 UI64 F32 F64 C32 C64
	return [...]int{1, 1, 2, 2, 4, 4, 8, 8, 4, 8, 8, 16}[base]
}

// componentSize is the unit of byte order conversion for block payloads.
func (t PropertyType) componentSize() int {
	switch t {
	case TypeC32Vector, TypeC64Vector, TypeC32Matrix, TypeC64Matrix:
		return t.elementSize() / 2
	}
	if n := t.elementSize(); n > 0 {
		return n
	}
	return 1
}
