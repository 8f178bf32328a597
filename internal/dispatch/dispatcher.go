// Package dispatch resolves incoming requests against the compiled
// route table, assembles procedure arguments from the request facets,
// invokes the bound procedure and translates its out-values back into
// the HTTP response.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/callgate/callgate/internal/db"
	"github.com/callgate/callgate/internal/i18n"
	"github.com/callgate/callgate/internal/logging"
	"github.com/callgate/callgate/internal/metrics"
	"github.com/callgate/callgate/internal/router"
	"github.com/callgate/callgate/internal/websession"
)

// refreshAck is the fixed acknowledgement the reserved refresh entry
// answers with.
const refreshAck = "Route table has been refreshed!"

// Config wires a dispatcher.
type Config struct {
	DB           *db.Service
	Source       router.Source
	Compiler     *router.Compiler
	Sessions     *websession.Manager
	Localization i18n.Resolver
	LocaleBundle string
	// RefreshEntry is the reserved path segment that triggers route
	// table recompilation. Empty disables the refresh endpoint.
	RefreshEntry string
	EnableGzip   bool
	TraceEnabled bool
	Trace        TraceSink
	Log          *logging.Logger
	// Next handles requests no route entry matches.
	Next http.Handler
}

// Dispatcher is the request state machine. The active route table is
// an immutable snapshot swapped atomically on refresh, so in-flight
// requests always observe either the fully old or fully new table.
type Dispatcher struct {
	cfg   Config
	log   *logging.Logger
	table atomic.Pointer[router.Table]
}

// New builds a dispatcher with an empty route table. Call Refresh to
// load the initial definition.
func New(cfg Config) *Dispatcher {
	if cfg.Log == nil {
		cfg.Log = logging.NewNop()
	}
	d := &Dispatcher{cfg: cfg, log: cfg.Log}
	d.table.Store(cfg.Compiler.Compile(router.Definition{}))
	return d
}

// Table returns the active route table snapshot.
func (d *Dispatcher) Table() *router.Table {
	return d.table.Load()
}

// Refresh recompiles the route table from the definition source and
// swaps it in wholesale. A source failure keeps the previous table in
// effect: stale routes beat no routes.
func (d *Dispatcher) Refresh(ctx context.Context) error {
	def, err := d.cfg.Source.Load(ctx)
	if err != nil {
		return err
	}
	table := d.cfg.Compiler.Compile(def)
	d.table.Store(table)
	metrics.SetRouteTableSize(table.Len())
	d.log.Infof("route table refreshed: %d entries", table.Len())
	return nil
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := strings.ToUpper(r.Method)
	path := r.URL.Path
	entryName := path[strings.LastIndex(path, "/")+1:]

	if d.cfg.RefreshEntry != "" && entryName == d.cfg.RefreshEntry {
		if err := d.Refresh(r.Context()); err != nil {
			d.log.WithError(err).Error("route table refresh failed; previous table kept")
		}
		sendText(w, http.StatusOK, refreshAck, "text/plain", false)
		return
	}

	route, ok := d.Table().Lookup(method, entryName)
	if !ok {
		if d.cfg.Next != nil {
			d.cfg.Next.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}
	d.dispatch(w, r, route)
}

func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request, route router.Entry) {
	start := time.Now()
	metrics.IncrementInFlight()
	rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		metrics.DecrementInFlight()
		duration := time.Since(start)
		metrics.RecordDispatch(route.Method, route.EntryName, rw.status, duration)
		if d.cfg.TraceEnabled && d.cfg.Trace != nil {
			d.cfg.Trace.Record(TraceInfo{
				URL:      requestURL(r),
				Method:   route.Method,
				ClientIP: clientIP(r),
				Start:    start,
				Duration: duration,
			})
		}
	}()

	sess, err := d.cfg.Sessions.Session(rw, r)
	if err != nil {
		d.log.WithError(err).Error("session resolution failed")
		sendText(rw, http.StatusInternalServerError, "Server error!", "text/plain", false)
		return
	}

	args, out, err := d.buildArgs(r, route, sess)
	if err == nil {
		err = d.cfg.DB.Do(r.Context(), func(s *db.Session) error {
			return s.Perform(r.Context(), route.Procedure, nil, args...)
		})
	}
	if err != nil {
		d.fail(rw, r, sess, err)
		return
	}
	d.respond(rw, r, sess, out)
}

// outValues collects the response-facet holders of one dispatch.
type outValues struct {
	session     *db.OutParam
	status      *db.OutParam
	header      *db.OutParam
	body        *db.OutParam
	contentType *db.OutParam
}

func (d *Dispatcher) buildArgs(r *http.Request, route router.Entry, sess *websession.Session) ([]any, *outValues, error) {
	needsBody := false
	for _, p := range route.Parameters {
		if strings.EqualFold(p, router.ParamRequestBody) {
			needsBody = true
			break
		}
	}
	var body any
	if needsBody {
		var err error
		body, err = classifyBody(r)
		if err != nil {
			return nil, nil, err
		}
	}

	var headerJSON string
	headerDone := false
	out := &outValues{}
	args := make([]any, 0, len(route.Parameters))
	for _, p := range route.Parameters {
		switch strings.ToLower(p) {
		case router.ParamQueryString:
			raw := r.URL.RawQuery
			if raw == "" {
				args = append(args, nil)
				break
			}
			values, err := url.ParseQuery(raw)
			if err != nil {
				return nil, nil, err
			}
			text, err := json.Marshal(flattenValues(values))
			if err != nil {
				return nil, nil, err
			}
			args = append(args, string(text))
		case router.ParamRequestBody:
			args = append(args, body)
		case router.ParamRequestHeader:
			// Serialized once, reused by every descriptor in this request.
			if !headerDone {
				headers := make(map[string]string, len(r.Header))
				for name := range r.Header {
					headers[name] = r.Header.Get(name)
				}
				text, err := json.Marshal(headers)
				if err != nil {
					return nil, nil, err
				}
				headerJSON = string(text)
				headerDone = true
			}
			args = append(args, headerJSON)
		case router.ParamSession:
			text, err := json.Marshal(sess.Map())
			if err != nil {
				return nil, nil, err
			}
			out.session = db.Ref(db.KindVarchar, string(text))
			args = append(args, out.session)
		case router.ParamStatus:
			out.status = db.Out(db.KindInteger)
			args = append(args, out.status)
		case router.ParamResponseHeader:
			out.header = db.Out(db.KindVarchar)
			args = append(args, out.header)
		case router.ParamResponseBody:
			out.body = db.Out(db.KindVarchar)
			args = append(args, out.body)
		case router.ParamResponseContentType:
			out.contentType = db.Out(db.KindVarchar)
			args = append(args, out.contentType)
		}
	}
	return args, out, nil
}

// classifyBody reads the request body as JSON text: a JSON content type
// passes through raw, a form body is parsed and re-encoded as JSON,
// and POST/PUT without a content type default to JSON. Anything else
// leaves the body unconsumed and binds null.
func classifyBody(r *http.Request) (any, error) {
	contentType := r.Header.Get("Content-Type")
	base := strings.TrimSpace(strings.Split(contentType, ";")[0])
	isJSON := strings.EqualFold(base, "application/json") ||
		(contentType == "" && (strings.EqualFold(r.Method, http.MethodPost) || strings.EqualFold(r.Method, http.MethodPut)))
	isForm := strings.EqualFold(base, "application/x-www-form-urlencoded")
	if !isJSON && !isForm {
		return nil, nil
	}
	raw, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if isJSON {
		return raw, nil
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	text, err := json.Marshal(flattenValues(values))
	if err != nil {
		return nil, err
	}
	return string(text), nil
}

func readBody(r *http.Request) (string, error) {
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func flattenValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for key := range values {
		out[key] = values.Get(key)
	}
	return out
}

func (d *Dispatcher) respond(w http.ResponseWriter, r *http.Request, sess *websession.Session, out *outValues) {
	status := http.StatusOK
	if out.status != nil {
		if v, ok := out.status.IntValue(); ok {
			status = int(v)
		}
	}

	if out.session != nil && out.session.Set() {
		if text, ok := out.session.StringValue(); ok {
			var state map[string]any
			if err := json.Unmarshal([]byte(text), &state); err != nil {
				d.log.WithError(err).Warn("session out-value is not a JSON object; ignored")
			} else {
				// Full replace: keys absent from the new value disappear.
				sess.Replace(state)
			}
		}
	}

	if out.header != nil {
		if text, ok := out.header.StringValue(); ok && gjson.Valid(text) {
			gjson.Parse(text).ForEach(func(key, value gjson.Result) bool {
				w.Header().Set(key.String(), value.String())
				return true
			})
		}
	}

	d.persistSession(r, sess)

	contentType := "application/json"
	if out.contentType != nil {
		if v, ok := out.contentType.StringValue(); ok {
			contentType = v
		}
	}
	if out.body != nil {
		if text, ok := out.body.StringValue(); ok {
			compress := d.cfg.EnableGzip && acceptsGzip(r)
			if err := sendText(w, status, text, contentType, compress); err != nil {
				d.log.WithError(err).Error("write response failed")
			}
			return
		}
	}
	send(w, status)
}

func (d *Dispatcher) persistSession(r *http.Request, sess *websession.Session) {
	if sess == nil || sess.IsSaved() {
		return
	}
	if !sess.Dirty() && sess.IsNew() {
		return
	}
	if err := sess.Save(r.Context()); err != nil {
		d.log.WithError(err).Warn("session save failed")
	}
}

// fail classifies a dispatch failure: a native call failure whose root
// cause carries the HTTP error marker answers with the declared status
// (and optional localized text); everything else is a generic 500 with
// no internal detail leaked.
func (d *Dispatcher) fail(w http.ResponseWriter, r *http.Request, sess *websession.Session, err error) {
	d.persistSession(r, sess)

	var callErr *db.CallError
	if errors.As(err, &callErr) {
		if marker, ok := ParseMarker(rootCause(callErr).Error()); ok {
			if marker.MessageKey == "" {
				send(w, marker.Status)
			} else {
				text := marker.MessageKey
				if d.cfg.Localization != nil {
					text = d.cfg.Localization.Resolve(d.cfg.LocaleBundle, d.language(r, sess), marker.MessageKey)
				}
				sendText(w, marker.Status, text, "text/plain", false)
			}
			d.log.Warnf("procedure requested HTTP error: %v", err)
			return
		}
	}
	sendText(w, http.StatusInternalServerError, "Server error!", "text/plain", false)
	d.log.WithError(err).Error("dispatch failed")
}

// language resolves the localization language: the session's stored
// preference first, the request's declared language second.
func (d *Dispatcher) language(r *http.Request, sess *websession.Session) string {
	if sess != nil {
		if v, ok := sess.Get("lang"); ok {
			if lang, ok := v.(string); ok && lang != "" {
				return lang
			}
		}
	}
	return r.Header.Get("Accept-Language")
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// statusWriter captures the response status for metrics and tracing.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
