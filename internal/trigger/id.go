package trigger

import "strings"

// Kind tags a trigger identity.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimer
	KindAlarm
)

func (k Kind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindAlarm:
		return "alarm"
	default:
		return "unknown"
	}
}

const (
	timerName   = "timer"
	alarmPrefix = "alarm-"
)

// ID identifies a trigger: the countdown timer, or the alarm with a given id.
//
// Wire names ("timer", "alarm-<id>") are decoded once by ParseName and
// rendered back by Name; nothing else looks at the string form.
type ID struct {
	Kind    Kind
	AlarmID string // KindAlarm only

	raw string // KindUnknown only
}

func Timer() ID { return ID{Kind: KindTimer} }

func Alarm(id string) ID { return ID{Kind: KindAlarm, AlarmID: id} }

// ParseName decodes a wire trigger name. Names that are neither "timer" nor
// "alarm-" prefixed decode to KindUnknown and keep their original text.
func ParseName(name string) ID {
	switch {
	case name == timerName:
		return Timer()
	case strings.HasPrefix(name, alarmPrefix):
		return Alarm(strings.TrimPrefix(name, alarmPrefix))
	default:
		return ID{Kind: KindUnknown, raw: name}
	}
}

// Name renders the wire name.
func (id ID) Name() string {
	switch id.Kind {
	case KindTimer:
		return timerName
	case KindAlarm:
		return alarmPrefix + id.AlarmID
	default:
		return id.raw
	}
}

func (id ID) String() string { return id.Name() }
