package messaging

// Source tags every message the embed frame posts.
const Source = "navi"

type EventType string

const (
	SessionReady     EventType = "navi.session.ready"
	SessionCompleted EventType = "navi.session.completed"
	SessionError     EventType = "navi.session.error"

	HeightChanged EventType = "navi.height.changed"

	ActivityReady      EventType = "navi.activity.ready"
	ActivityActivate   EventType = "navi.activity.activate"
	ActivityProgress   EventType = "navi.activity.progress"
	ActivityDataChange EventType = "navi.activity.data-change"
	ActivityCompleted  EventType = "navi.activity.completed"
	ActivityError      EventType = "navi.activity.error"
	ActivityFocus      EventType = "navi.activity.focus"
	ActivityBlur       EventType = "navi.activity.blur"
)

var catalogue = []EventType{
	SessionReady,
	SessionCompleted,
	SessionError,
	HeightChanged,
	ActivityReady,
	ActivityActivate,
	ActivityProgress,
	ActivityDataChange,
	ActivityCompleted,
	ActivityError,
	ActivityFocus,
	ActivityBlur,
}

// EventTypes returns the catalogue in a stable order.
func EventTypes() []EventType {
	out := make([]EventType, len(catalogue))
	copy(out, catalogue)
	return out
}

func (t EventType) Valid() bool {
	for _, known := range catalogue {
		if t == known {
			return true
		}
	}
	return false
}
