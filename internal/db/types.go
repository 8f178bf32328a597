// Package db implements the stored-procedure call layer: bidirectional
// marshalling between domain values and driver values, sessions bound to
// a single pooled connection, and positional procedure invocation with
// output and in/out parameters.
package db

import (
	"fmt"
	"time"
)

// Kind identifies one entry of the closed domain type table. Every value
// that crosses the call boundary resolves to exactly one Kind; anything
// outside the table fails the enclosing call.
type Kind int

const (
	// KindObject is the untyped slot: the driver value is decoded by
	// inference only (temporal and structured natives), everything else
	// is subject to the marshaller's strict/permissive setting.
	KindObject Kind = iota
	KindBool
	KindTinyInt
	KindSmallInt
	KindInteger
	KindBigInt
	KindFloat
	KindDouble
	KindNumeric
	KindVarchar
	KindBinary
	KindTimestamp
	KindArray
	KindStruct
	KindCursor
	KindTable
)

var kindNames = map[Kind]string{
	KindObject:    "object",
	KindBool:      "bool",
	KindTinyInt:   "tinyint",
	KindSmallInt:  "smallint",
	KindInteger:   "integer",
	KindBigInt:    "bigint",
	KindFloat:     "float",
	KindDouble:    "double",
	KindNumeric:   "numeric",
	KindVarchar:   "varchar",
	KindBinary:    "binary",
	KindTimestamp: "timestamp",
	KindArray:     "array",
	KindStruct:    "struct",
	KindCursor:    "cursor",
	KindTable:     "table",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// typeMapping translates a Kind to the native call-parameter type code.
// Closed table: kinds absent here resolve through the array/UDT paths or
// fail the call.
var typeMapping = map[Kind]string{
	KindBool:      "boolean",
	KindTinyInt:   "smallint",
	KindSmallInt:  "smallint",
	KindInteger:   "integer",
	KindBigInt:    "bigint",
	KindFloat:     "real",
	KindDouble:    "double precision",
	KindNumeric:   "numeric",
	KindVarchar:   "text",
	KindBinary:    "bytea",
	KindTimestamp: "timestamp with time zone",
	KindCursor:    "refcursor",
}

// arrayElemType maps an array element Kind to its native element type
// name. These names are postgres-specific, matching the driver in use.
var arrayElemType = map[Kind]string{
	KindVarchar:   "text",
	KindBinary:    "bytea",
	KindTinyInt:   "smallint",
	KindSmallInt:  "smallint",
	KindInteger:   "integer",
	KindBigInt:    "bigint",
	KindFloat:     "real",
	KindDouble:    "double precision",
	KindBool:      "boolean",
	KindNumeric:   "numeric",
	KindTimestamp: "timestamp with time zone",
}

// DestType describes the destination of a conversion from a native
// value: the Kind, the element Kind for arrays, and the UDT descriptor
// for structured values.
type DestType struct {
	Kind Kind
	Elem Kind
	UDT  *UDTDescriptor
}

// UDTField is one ordered member of a structured type.
type UDTField struct {
	Name string
	Type DestType
}

// UDTDescriptor declares a structured native type: its type name and
// the ordered member list. It governs both serialization into a native
// structured value and reconstruction from one.
type UDTDescriptor struct {
	Name   string
	Fields []UDTField
}

// UDTMap resolves a native structured type name to its descriptor when
// decoding results.
type UDTMap map[string]*UDTDescriptor

// Record is a domain structured value: a descriptor plus field values
// keyed by field name. Only fields declared in the descriptor are
// marshalled, in their declared order.
type Record struct {
	Desc   *UDTDescriptor
	Fields map[string]any
}

// Struct is the native representation of a structured value: the
// reported type name and the ordered attribute list.
type Struct struct {
	Name  string
	Attrs []any
}

// UnsupportedTypeError reports a domain type, array element or UDT
// combination the marshaller cannot map. It aborts the enclosing call.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return "db: unsupported type: " + e.Type
}

func unsupported(format string, args ...any) *UnsupportedTypeError {
	return &UnsupportedTypeError{Type: fmt.Sprintf(format, args...)}
}

// CallError wraps a failed statement or procedure execution. The root
// cause may carry an embedded HTTP error marker which the dispatcher
// interprets.
type CallError struct {
	Statement string
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("db: call %q failed: %v", e.Statement, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// OutParam is a typed holder declared before a call and populated after
// execution. Out-only holders carry no input value; in/out holders
// (built with Ref) bind their current value and are overwritten by the
// call's output slot.
type OutParam struct {
	dest  DestType
	value any
	set   bool
	inout bool
}

// Out declares an out-only parameter of the given scalar kind.
func Out(kind Kind) *OutParam {
	return &OutParam{dest: DestType{Kind: kind}}
}

// OutArray declares an out-only array parameter with the given element
// kind.
func OutArray(elem Kind) *OutParam {
	return &OutParam{dest: DestType{Kind: KindArray, Elem: elem}}
}

// OutUDT declares an out-only structured parameter.
func OutUDT(desc *UDTDescriptor) *OutParam {
	return &OutParam{dest: DestType{Kind: KindStruct, UDT: desc}}
}

// Ref declares an in/out parameter: value binds as input and the
// holder is overwritten with the call's output slot.
func Ref(kind Kind, value any) *OutParam {
	return &OutParam{dest: DestType{Kind: kind}, value: value, inout: true}
}

// Dest reports the declared destination type of the holder.
func (p *OutParam) Dest() DestType { return p.dest }

// InOut reports whether the holder binds an input value.
func (p *OutParam) InOut() bool { return p.inout }

// Set reports whether the call populated the holder.
func (p *OutParam) Set() bool { return p.set }

// Value returns the populated value, or the bound input value for an
// in/out holder that has not been populated yet.
func (p *OutParam) Value() any { return p.value }

func (p *OutParam) assign(v any) {
	p.value = v
	p.set = true
}

// StringValue returns the held value as a string. The second result is
// false when the value is absent or not a string.
func (p *OutParam) StringValue() (string, bool) {
	s, ok := p.value.(string)
	return s, ok && p.value != nil
}

// IntValue returns the held value as an int64.
func (p *OutParam) IntValue() (int64, bool) {
	switch v := p.value.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

// BoolValue returns the held value as a bool.
func (p *OutParam) BoolValue() (bool, bool) {
	b, ok := p.value.(bool)
	return b, ok
}

// TimeValue returns the held value as a time.Time.
func (p *OutParam) TimeValue() (time.Time, bool) {
	t, ok := p.value.(time.Time)
	return t, ok
}
