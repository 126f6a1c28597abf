// Status and exit-code mapping for spec §7's error taxonomy. Kept in one
// table, as the teacher keeps its errorResponse/successResponse shapes in
// one place in harpoon-scheduler/main.go, so every handler derives both
// the HTTP status and the documented CLI exit code from the same source.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/exostack/exohub/hub"
)

// exitCode is spec §6's administrative-CLI exit status, carried in every
// error envelope so an external CLI layered over this HTTP surface can
// derive its exit status without reimplementing the taxonomy mapping.
type exitCode int

const (
	exitSuccess         exitCode = 0
	exitGeneric         exitCode = 1
	exitUsage           exitCode = 2
	exitConnectionFault exitCode = 3
	exitNotFound        exitCode = 4
	exitStateConflict   exitCode = 5
)

type statusMapping struct {
	http int
	exit exitCode
}

var kindMapping = map[hub.ErrorKind]statusMapping{
	hub.NotFound:         {http.StatusNotFound, exitNotFound},
	hub.StateConflict:    {http.StatusConflict, exitStateConflict},
	hub.PermissionDenied: {http.StatusForbidden, exitGeneric},
	hub.Unavailable:      {http.StatusServiceUnavailable, exitConnectionFault},
	hub.InvalidArgument:  {http.StatusBadRequest, exitUsage},
	hub.Internal:         {http.StatusInternalServerError, exitGeneric},
}

func mapping(kind hub.ErrorKind) statusMapping {
	m, ok := kindMapping[kind]
	if !ok {
		return statusMapping{http.StatusInternalServerError, exitGeneric}
	}
	return m
}

// errorBody is spec §7's "every API response carries {ok, error?}"
// envelope.
type errorBody struct {
	Kind     hub.ErrorKind `json:"kind"`
	Message  string        `json:"message"`
	ExitCode exitCode      `json:"exit_code"`
}

type envelope struct {
	OK    bool       `json:"ok"`
	Error *errorBody `json:"error,omitempty"`
}

// writeError translates err into the §7 envelope and an HTTP status
// derived from its ErrorKind. Errors that are not a *hub.Error map to
// Internal (via hub.KindOf); malformed requests are reported through
// badRequest, which builds an InvalidArgument error explicitly.
func writeError(w http.ResponseWriter, err error) {
	kind := hub.KindOf(err)
	if kind == "" {
		kind = hub.InvalidArgument
	}
	m := mapping(kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(m.http)
	json.NewEncoder(w).Encode(envelope{
		OK:    false,
		Error: &errorBody{Kind: kind, Message: err.Error(), ExitCode: m.exit},
	})
}

// writeJSON writes a body of v with no error envelope wrapping, matching
// the teacher's plain writeSuccess rather than nesting every payload
// under a generic "result" field. The register, heartbeat, create, batch,
// cancel, and healthz responses carry `"ok": true` in their own shapes;
// the task/agent list, task view, next, complete, fail, and wait
// responses carry no "ok" field.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeError(w, hub.Errorf(hub.InvalidArgument, format, args...))
}
