package dispatch

import (
	"errors"
	"regexp"
	"strconv"
)

// markerPattern matches the HTTP error marker a procedure embeds in its
// error message: <http:STATUS> or <http:STATUS:MESSAGE_KEY>.
var markerPattern = regexp.MustCompile(`<http:(\d{3})(?::([^>]+))?>`)

// Marker is a procedure-declared HTTP error response.
type Marker struct {
	Status     int
	MessageKey string
}

// ParseMarker scans a message for an embedded HTTP error marker.
func ParseMarker(message string) (Marker, bool) {
	m := markerPattern.FindStringSubmatch(message)
	if m == nil {
		return Marker{}, false
	}
	status, err := strconv.Atoi(m[1])
	if err != nil {
		return Marker{}, false
	}
	return Marker{Status: status, MessageKey: m[2]}, true
}

// rootCause walks the cause chain to its innermost error.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
