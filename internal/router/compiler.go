package router

import (
	"strings"

	"github.com/callgate/callgate/internal/logging"
)

// Definition is the declarative route mapping: key grammar
// "METHOD[|METHOD...]:procedure[:entryName]", value the ordered
// parameter role list.
type Definition map[string][]string

// Compiler turns definitions into route tables. Malformed entries are
// logged and skipped; compilation as a whole continues.
type Compiler struct {
	// IndexProcedure is the prefix stripped (case-insensitively) from a
	// procedure name when deriving an entry name.
	IndexProcedure string
	Log            *logging.Logger
}

// Compile builds a fresh table from the definition. The result is
// complete and immutable; the caller swaps it in atomically.
func (c *Compiler) Compile(def Definition) *Table {
	log := c.Log
	if log == nil {
		log = logging.NewNop()
	}
	table := &Table{entries: make(map[string]Entry, len(def))}

	for key, params := range def {
		if key == "" {
			continue
		}
		parts := strings.Split(key, ":")
		var methodToken, procName, entryName string
		switch len(parts) {
		case 2:
			methodToken, procName = parts[0], parts[1]
			entryName = c.deriveEntryName(procName)
		case 3:
			methodToken, procName, entryName = parts[0], parts[1], parts[2]
		default:
			log.Warnf("invalid route entry %q: bad key format", key)
			continue
		}
		if procName == "" {
			log.Warnf("invalid route entry %q: empty procedure name", key)
			continue
		}
		if entryName == "" {
			log.Warnf("invalid route entry %q: empty entry name", key)
			continue
		}

		if !c.validateParams(log, key, params) {
			continue
		}

		registered := false
		for _, m := range strings.Split(methodToken, "|") {
			method := strings.ToUpper(strings.TrimSpace(m))
			if _, ok := validMethods[method]; !ok {
				log.Warnf("invalid route entry %q: method %q ignored", key, m)
				continue
			}
			entry := Entry{
				Method:     method,
				EntryName:  entryName,
				Procedure:  procName,
				Parameters: append([]string(nil), params...),
			}
			table.entries[entry.Key()] = entry
			registered = true
		}
		if !registered {
			log.Warnf("invalid route entry %q: no valid method", key)
		}
	}
	return table
}

// validateParams checks every role tag against the closed vocabulary
// and rejects duplicates (case-insensitive). Failures skip the whole
// entry.
func (c *Compiler) validateParams(log *logging.Logger, key string, params []string) bool {
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		lower := strings.ToLower(p)
		if _, ok := validParams[lower]; !ok {
			log.Warnf("invalid route entry %q: unknown parameter %q", key, p)
			return false
		}
		if _, dup := seen[lower]; dup {
			log.Warnf("invalid route entry %q: duplicated parameter %q", key, p)
			return false
		}
		seen[lower] = struct{}{}
	}
	return true
}

// deriveEntryName strips the index-procedure prefix, then converts
// underscore-delimited segments to camel case.
func (c *Compiler) deriveEntryName(procName string) string {
	name := procName
	if c.IndexProcedure != "" &&
		strings.HasPrefix(strings.ToLower(name), strings.ToLower(c.IndexProcedure)) {
		name = name[len(c.IndexProcedure):]
	}
	return underscoreToCamel(name)
}

func underscoreToCamel(s string) string {
	segments := strings.Split(s, "_")
	var b strings.Builder
	first := true
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if first {
			b.WriteString(strings.ToLower(seg[:1]))
			b.WriteString(seg[1:])
			first = false
			continue
		}
		b.WriteString(strings.ToUpper(seg[:1]))
		b.WriteString(seg[1:])
	}
	return b.String()
}
