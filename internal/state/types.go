package state

// Store keys.
const (
	KeyAlarms   = "alarms"
	KeyCities   = "worldClockCities"
	KeyTriggers = "triggers"
)

// Alarm is a recurring daily alarm as the popup stores it.
type Alarm struct {
	ID      int64  `json:"id"`
	Label   string `json:"label"`
	Time    string `json:"time"` // "HH:MM", local time
	Enabled bool   `json:"enabled"`
}

// City is a world-clock entry.
type City struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"` // IANA name
}

// DefaultCities is the world-clock list seeded on first install.
func DefaultCities() []City {
	return []City{
		{ID: 1, Name: "New York", Timezone: "America/New_York"},
		{ID: 2, Name: "London", Timezone: "Europe/London"},
		{ID: 3, Name: "Tokyo", Timezone: "Asia/Tokyo"},
	}
}
