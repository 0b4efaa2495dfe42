// SPDX-License-Identifier: MIT
package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportStateValidity(t *testing.T) {
	assert.True(t, ReportStateNone.IsValid())
	assert.True(t, ReportStateWaiting.IsValid())
	assert.True(t, ReportStateConfirmed.IsValid())
	assert.False(t, ReportState("PENDING").IsValid())
}

func TestReportStateIsActive(t *testing.T) {
	assert.False(t, ReportStateNone.IsActive())
	assert.True(t, ReportStateWaiting.IsActive())
	assert.True(t, ReportStateConfirmed.IsActive())
}

func TestReportStateUnmarshalRejectsUnknown(t *testing.T) {
	var s ReportState
	require.NoError(t, json.Unmarshal([]byte(`"WAITING"`), &s))
	assert.Equal(t, ReportStateWaiting, s)

	assert.Error(t, json.Unmarshal([]byte(`"LOST"`), &s))
}

func TestParseReportState(t *testing.T) {
	s, err := ParseReportState("CONFIRMED")
	require.NoError(t, err)
	assert.Equal(t, ReportStateConfirmed, s)

	_, err = ParseReportState("confirmed")
	assert.Error(t, err)
}

func TestSessionStateValidity(t *testing.T) {
	assert.True(t, SessionStateConnected.IsValid())
	assert.True(t, SessionStateConnecting.IsValid())
	assert.True(t, SessionStateDisconnected.IsValid())
	assert.False(t, SessionState("zombie").IsValid())
}
