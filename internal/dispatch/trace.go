package dispatch

import (
	"time"

	"github.com/callgate/callgate/internal/logging"
)

// TraceInfo is the record emitted once per dispatched request when
// tracing is enabled, success or failure.
type TraceInfo struct {
	URL      string
	Method   string
	ClientIP string
	Start    time.Time
	Duration time.Duration
}

// TraceSink receives dispatch trace records.
type TraceSink interface {
	Record(TraceInfo)
}

// LogTraceSink writes trace records to the structured log.
type LogTraceSink struct {
	Log *logging.Logger
}

func (s LogTraceSink) Record(info TraceInfo) {
	s.Log.WithFields(map[string]interface{}{
		"url":       info.URL,
		"method":    info.Method,
		"client_ip": info.ClientIP,
		"start":     info.Start,
		"duration":  info.Duration.Milliseconds(),
	}).Info("dispatch")
}
