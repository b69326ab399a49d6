// Package flight holds the flight data model and status codes.
package flight

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StatusCode is the resolved state of a flight. The numeric values are part
// of the oracle wire contract and must not be renumbered.
type StatusCode uint8

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

// Valid reports whether the code is one of the defined status codes.
func (s StatusCode) Valid() bool {
	switch s {
	case StatusUnknown, StatusOnTime, StatusLateAirline, StatusLateWeather, StatusLateTechnical, StatusLateOther:
		return true
	}
	return false
}

func (s StatusCode) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusOnTime:
		return "ON_TIME"
	case StatusLateAirline:
		return "LATE_AIRLINE"
	case StatusLateWeather:
		return "LATE_WEATHER"
	case StatusLateTechnical:
		return "LATE_TECHNICAL"
	case StatusLateOther:
		return "LATE_OTHER"
	}
	return fmt.Sprintf("STATUS(%d)", uint8(s))
}

// Flight identity is (airline, code, timestamp). Status starts UNKNOWN and
// becomes terminal once oracle consensus finalizes it.
type Flight struct {
	Key       string
	Airline   string
	Code      string
	Timestamp int64
	Status    StatusCode
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MakeKey derives the canonical flight key from the flight identity.
func MakeKey(airline, code string, timestamp int64) string {
	return fmt.Sprintf("%s:%s:%d", airline, code, timestamp)
}

// ParseKey splits a canonical flight key back into its identity parts.
func ParseKey(key string) (airline, code string, timestamp int64, err error) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return "", "", 0, fmt.Errorf("malformed flight key %q", key)
	}
	timestamp, err = strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("malformed flight key %q: %w", key, err)
	}
	airline = parts[0]
	code = strings.Join(parts[1:len(parts)-1], ":")
	return airline, code, timestamp, nil
}
