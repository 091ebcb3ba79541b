package xisf

import (
	"fmt"
	"strconv"
	"strings"
)

// FITSKeyword is a legacy FITS header keyword carried by an image.
type FITSKeyword struct {
	Name    string
	Value   string
	Comment string
}

func (k FITSKeyword) IsNull() bool { return strings.TrimSpace(k.Value) == "" }

func (k FITSKeyword) IsString() bool { return strings.HasPrefix(strings.TrimSpace(k.Value), "'") }

func (k FITSKeyword) IsBoolean() bool {
	v := strings.TrimSpace(k.Value)
	return v == "T" || v == "F"
}

func (k FITSKeyword) IsNumeric() bool {
	_, ok := k.NumericValue()
	return ok
}

// NumericValue parses the value as a FITS number, accepting the Fortran
// D exponent.
func (k FITSKeyword) NumericValue() (float64, bool) {
	v := strings.TrimSpace(k.Value)
	if v == "" {
		return 0, false
	}
	v = strings.NewReplacer("D", "E", "d", "e").Replace(v)
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

// StripValueDelimiters returns a string value without its enclosing quotes
// or trailing blanks, with doubled quotes collapsed.
func (k FITSKeyword) StripValueDelimiters() string {
	v := strings.TrimSpace(k.Value)
	if strings.HasPrefix(v, "'") {
		v = v[1:]
		v = strings.TrimSuffix(v, "'")
	}
	return strings.ReplaceAll(strings.TrimRight(v, " "), "''", "'")
}

// FixValueDelimiters balances the quotes of a string value.
func (k *FITSKeyword) FixValueDelimiters() {
	v := strings.TrimSpace(k.Value)
	switch {
	case v == "":
	case strings.HasPrefix(v, "'") && (len(v) == 1 || !strings.HasSuffix(v, "'")):
		v += "'"
	case strings.HasSuffix(v, "'") && !strings.HasPrefix(v, "'"):
		v = "'" + v
	}
	k.Value = v
}

// Trim removes surrounding blanks from all fields.
func (k *FITSKeyword) Trim() {
	k.Name = strings.TrimSpace(k.Name)
	k.Value = strings.TrimSpace(k.Value)
	k.Comment = strings.TrimSpace(k.Comment)
}

func (k FITSKeyword) String() string {
	s := k.Name + " = " + k.Value
	if k.Comment != "" {
		s += " / " + k.Comment
	}
	return s
}

var fitsExcludedNames = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "EXTEND": true, "NEXTEND": true,
	"BSCALE": true, "BZERO": true, "PROGRAM": true, "CREATOR": true,
	"CONFIGUR": true, "XTENSION": true, "PCOUNT": true, "GCOUNT": true,
	"FILENAME": true, "FILETYPE": true, "ROOTNAME": true, "HDUNAME": true,
	"EXTNAME": true, "PINSIGHT": true, "COLORSPC": true, "ALPHACHN": true,
	"RESOLUTN": true, "XRESOLTN": true, "YRESOLTN": true, "RESOUNIT": true,
	"ICCPROFL": true, "THUMBIMG": true, "XMPDATA": true,
}

var fitsExcludedPrefixes = []string{"NAXIS", "TLMIN", "TLMAX", "TDMIN", "TDMAX", "TDBIN"}

func fitsExcluded(name string) bool {
	if fitsExcludedNames[name] {
		return true
	}
	for _, p := range fitsExcludedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// fitsImporter converts FITS keywords to FITS: properties. HISTORY and
// COMMENT keywords are numbered per stream.
type fitsImporter struct {
	history int
	comment int
}

// property returns the FITS: property for k. ok is false for keywords that
// are not imported.
func (fi *fitsImporter) property(k FITSKeyword) (id string, v Value, ok bool) {
	name := strings.ToUpper(strings.TrimSpace(k.Name))
	if name == "" || fitsExcluded(name) {
		return "", Value{}, false
	}
	var sb strings.Builder
	sb.WriteString(FITSPrefix)
	if !isIdentStart(name[0]) {
		sb.WriteByte('_')
	}
	for i := range len(name) {
		if c := name[i]; isIdentStart(c) || (c >= '0' && c <= '9') {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('_')
		}
	}
	id = sb.String()

	switch {
	case name == "HISTORY":
		fi.history++
		return fmt.Sprintf("%s%03d", id, fi.history), Value{typ: TypeString, v: k.Comment}, true
	case name == "COMMENT":
		fi.comment++
		return fmt.Sprintf("%s%03d", id, fi.comment), Value{typ: TypeString, v: k.Comment}, true
	case k.IsNull():
		return "", Value{}, false
	case k.IsString():
		return id, Value{typ: TypeString, v: k.StripValueDelimiters()}, true
	case k.IsBoolean():
		return id, Value{typ: TypeBoolean, v: strings.TrimSpace(k.Value) == "T"}, true
	}
	if f, isNum := k.NumericValue(); isNum {
		return id, Value{typ: TypeFloat64, v: f}, true
	}
	return id, Value{typ: TypeString, v: k.Value}, true
}
