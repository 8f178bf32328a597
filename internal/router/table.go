// Package router compiles declarative route definitions into the
// immutable lookup table the dispatcher queries. A definition maps
// "METHOD[|METHOD...]:procedure[:entryName]" keys to ordered parameter
// role lists drawn from a closed vocabulary.
package router

import (
	"strings"
)

// Parameter roles: the closed vocabulary a route entry may draw from.
const (
	ParamQueryString         = "query_string"
	ParamRequestBody         = "request_body"
	ParamRequestHeader       = "request_header"
	ParamSession             = "session"
	ParamStatus              = "status"
	ParamResponseHeader      = "response_header"
	ParamResponseContentType = "response_content_type"
	ParamResponseBody        = "response_body"
)

var validParams = map[string]struct{}{
	ParamQueryString:         {},
	ParamRequestBody:         {},
	ParamRequestHeader:       {},
	ParamSession:             {},
	ParamStatus:              {},
	ParamResponseHeader:      {},
	ParamResponseContentType: {},
	ParamResponseBody:        {},
}

var validMethods = map[string]struct{}{
	"GET":    {},
	"POST":   {},
	"PUT":    {},
	"DELETE": {},
}

// Entry is one compiled (method, entry name) → procedure binding.
type Entry struct {
	Method     string
	EntryName  string
	Procedure  string
	Parameters []string
}

// Key returns the lookup key "METHOD:entryName".
func (e Entry) Key() string {
	return e.Method + ":" + e.EntryName
}

// Table is an immutable compiled route table. It is replaced wholesale
// on every recompilation, never patched in place.
type Table struct {
	entries map[string]Entry
}

// Lookup resolves a method and entry name to a compiled entry.
func (t *Table) Lookup(method, entryName string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[strings.ToUpper(method)+":"+entryName]
	return e, ok
}

// Len returns the number of compiled entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Keys returns the compiled lookup keys. Intended for logging.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	return keys
}
