// SPDX-License-Identifier: MIT
package types

import (
	"encoding/json"
	"fmt"
)

// ReportState represents the lifecycle phase of the active SOS report.
type ReportState string

// Report state constants define all possible phases of an SOS report.
const (
	// ReportStateNone indicates no report is active.
	ReportStateNone ReportState = "NONE"

	// ReportStateWaiting indicates the report was sent and awaits dispatch.
	ReportStateWaiting ReportState = "WAITING"

	// ReportStateConfirmed indicates dispatch confirmed the report.
	ReportStateConfirmed ReportState = "CONFIRMED"
)

// String implements fmt.Stringer.
func (s ReportState) String() string {
	return string(s)
}

// IsValid checks whether the report state is valid.
func (s ReportState) IsValid() bool {
	switch s {
	case ReportStateNone, ReportStateWaiting, ReportStateConfirmed:
		return true
	default:
		return false
	}
}

// IsActive checks whether a report is currently outstanding.
func (s ReportState) IsActive() bool {
	switch s {
	case ReportStateWaiting, ReportStateConfirmed:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s ReportState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ReportState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	state := ReportState(str)
	if !state.IsValid() {
		return fmt.Errorf("invalid report state: %q", str)
	}

	*s = state
	return nil
}

// ParseReportState parses a string into a ReportState.
func ParseReportState(s string) (ReportState, error) {
	state := ReportState(s)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid report state: %q", s)
	}
	return state, nil
}
