package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	late := AttendanceStatusLate
	present := AttendanceStatusPresent

	assert.Equal(t, AttendanceStatusLate, DeriveStatus(&late, true))
	assert.Equal(t, AttendanceStatusPresent, DeriveStatus(&present, false))
	assert.Equal(t, AttendanceStatusPresent, DeriveStatus(nil, true))
	assert.Equal(t, AttendanceStatusAbsent, DeriveStatus(nil, false))
}

func TestAttendanceStatusValid(t *testing.T) {
	assert.True(t, AttendanceStatusPresent.Valid())
	assert.True(t, AttendanceStatusExcused.Valid())
	assert.False(t, AttendanceStatus("SLEEPING").Valid())
	assert.False(t, AttendanceStatus("").Valid())
}

func TestAttendanceRate(t *testing.T) {
	assert.Equal(t, float64(0), AttendanceRate(0, 0, 0))
	assert.Equal(t, float64(100), AttendanceRate(10, 0, 10))
	assert.Equal(t, float64(75), AttendanceRate(6, 3, 12))
	assert.Equal(t, 66.67, AttendanceRate(2, 0, 3))
	// Late counts toward the rate, excused and absent do not.
	assert.Equal(t, float64(50), AttendanceRate(1, 1, 4))
}

func TestAttendanceBucket(t *testing.T) {
	assert.Equal(t, AttendanceBucketNoData, AttendanceBucket(0, 0))
	assert.Equal(t, AttendanceBucketGood, AttendanceBucket(75, 10))
	assert.Equal(t, AttendanceBucketGood, AttendanceBucket(100, 10))
	assert.Equal(t, AttendanceBucketAverage, AttendanceBucket(74.99, 10))
	assert.Equal(t, AttendanceBucketAverage, AttendanceBucket(50, 10))
	assert.Equal(t, AttendanceBucketPoor, AttendanceBucket(49.99, 10))
	assert.Equal(t, AttendanceBucketPoor, AttendanceBucket(0, 10))
}

func TestEditPolicyValid(t *testing.T) {
	assert.True(t, EditPolicySameDay.Valid())
	assert.True(t, EditPolicyUntilFinalized.Valid())
	assert.False(t, EditPolicy("whenever").Valid())
}
