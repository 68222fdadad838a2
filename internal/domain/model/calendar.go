package model

import "time"

// CalendarInfo is the provider-neutral view of a calendar the API exposes.
type CalendarInfo struct {
	ID          string
	Summary     string
	Description string
	TimeZone    string
	Primary     bool
	AccessRole  string
}

// EventInfo is the provider-neutral view of a calendar event.
type EventInfo struct {
	ID       string
	Summary  string
	Location string
	Status   string
	Start    time.Time
	End      time.Time
	AllDay   bool
}
