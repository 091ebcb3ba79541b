package api

import "github.com/samcharles93/xisf/internal/inspect"

// UnitObject describes an uploaded XISF unit.
type UnitObject struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	CreatedAt int64           `json:"created_at"`
	Name      string          `json:"name,omitempty"`
	Bytes     int64           `json:"bytes"`
	Report    *inspect.Report `json:"report"`
}

type UnitList struct {
	Object string       `json:"object"`
	Data   []UnitObject `json:"data"`
}

type DeletedObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// PropertyObject is a single property value. Value holds the text form
// used in XISF headers; vectors and matrices also report their shape.
type PropertyObject struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	Type       string `json:"type"`
	Value      string `json:"value"`
	Dimensions []int  `json:"dimensions,omitempty"`
}

// ConvertRequest selects the output options of a conversion. Empty fields
// keep the server defaults.
type ConvertRequest struct {
	Compression  string `json:"compression,omitempty"`
	Level        *int   `json:"compression_level,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	SampleFormat string `json:"sample_format,omitempty"`
	Images       []int  `json:"images,omitempty"`
	Properties   *bool  `json:"properties,omitempty"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
