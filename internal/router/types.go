package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"timez/internal/trigger"
)

// Message types accepted from popup clients.
const (
	TypeCreateTimer   = "create-timer"
	TypeCancelTimer   = "cancel-timer"
	TypeCreateAlarm   = "create-alarm"
	TypeCancelAlarm   = "cancel-alarm"
	TypeGetTimerState = "get-timer-state"
)

const (
	errUnknownType  = "Unknown message type"
	errMissingDelay = "delayInMinutes is required"
)

// Message is a request from a popup client.
//
// ID is transport metadata: native messaging clients set it to correlate
// replies, and it is echoed back untouched.
type Message struct {
	ID             *int64   `json:"id,omitempty"`
	Type           string   `json:"type"`
	DelayInMinutes *float64 `json:"delayInMinutes,omitempty"`
	AlarmID        AlarmRef `json:"alarmId,omitempty"`
}

// AlarmRef is an alarm id as sent by clients: a JSON number or string.
// It is always handled in its string form.
type AlarmRef string

func (a *AlarmRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = AlarmRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("alarmId: want number or string, got %s", b)
	}
	f, err := n.Float64()
	if err != nil {
		*a = AlarmRef(n.String())
		return nil
	}
	*a = AlarmRef(numberString(f))
	return nil
}

// numberString formats f the way String(n) does in the browser: plain
// digits for 1e-6 <= |f| < 1e21, shortest exponent form otherwise.
func numberString(f float64) string {
	if f == 0 {
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	// Go pads the exponent to two digits ("1e-07"); the browser does not.
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	exp = strings.TrimLeft(exp[1:], "0")
	if exp == "" {
		exp = "0"
	}
	return mant + "e" + sign + exp
}

// ResponseKind selects which of the three reply shapes a Response renders as.
type ResponseKind int

const (
	ResponseSuccess ResponseKind = iota
	ResponseTimerState
	ResponseError
)

// Response is the reply to a Message.
//
//	ResponseSuccess    -> {"success":true}
//	ResponseTimerState -> {"alarm":<trigger|null>}
//	ResponseError      -> {"error":"..."}
type Response struct {
	Kind  ResponseKind
	ID    *int64
	Alarm *trigger.Info
	Error string
}

func success() Response { return Response{Kind: ResponseSuccess} }

func failure(msg string) Response { return Response{Kind: ResponseError, Error: msg} }

func (r Response) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	switch r.Kind {
	case ResponseSuccess:
		out["success"] = true
	case ResponseTimerState:
		if r.Alarm != nil {
			out["alarm"] = r.Alarm
		} else {
			out["alarm"] = nil
		}
	default:
		out["error"] = r.Error
	}
	if r.ID != nil {
		out["id"] = *r.ID
	}
	return json.Marshal(out)
}

func (r *Response) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID      *int64          `json:"id"`
		Success *bool           `json:"success"`
		Alarm   json.RawMessage `json:"alarm"`
		Error   *string         `json:"error"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Response{ID: raw.ID}
	switch {
	case raw.Error != nil:
		r.Kind = ResponseError
		r.Error = *raw.Error
	case raw.Alarm != nil:
		r.Kind = ResponseTimerState
		if !bytes.Equal(bytes.TrimSpace(raw.Alarm), []byte("null")) {
			var info trigger.Info
			if err := json.Unmarshal(raw.Alarm, &info); err != nil {
				return err
			}
			r.Alarm = &info
		}
	default:
		r.Kind = ResponseSuccess
	}
	return nil
}
