package utils

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

type testRequest struct {
	Name   string  `json:"name" validate:"required"`
	Limit  int     `json:"limit" validate:"gte=0,lte=50"`
	Points []point `json:"points" validate:"required,min=1,dive"`
}

func f(v float64) *float64 { return &v }

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		s := testRequest{Name: "feira", Limit: 3, Points: []point{{Lat: f(0), Lng: f(0)}}}
		assert.NoError(t, ValidateStruct(&s))
	})

	t.Run("zero coordinates are valid", func(t *testing.T) {
		s := testRequest{Name: "equator", Points: []point{{Lat: f(0), Lng: f(-180)}}}
		assert.NoError(t, ValidateStruct(&s))
	})

	t.Run("missing required field", func(t *testing.T) {
		s := testRequest{Points: []point{{Lat: f(1), Lng: f(1)}}}

		err := ValidateStruct(&s)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, GetValidationFields(err), "name")
	})

	t.Run("latitude out of range", func(t *testing.T) {
		s := testRequest{Name: "x", Points: []point{{Lat: f(1), Lng: f(1)}, {Lat: f(91), Lng: f(1)}}}

		err := ValidateStruct(&s)
		require.Error(t, err)
		fields := GetValidationFields(err)
		assert.Contains(t, fields, "points[1].lat")
		assert.Contains(t, fields["points[1].lat"], "latitude")
	})

	t.Run("missing longitude", func(t *testing.T) {
		s := testRequest{Name: "x", Points: []point{{Lat: f(1)}}}

		err := ValidateStruct(&s)
		require.Error(t, err)
		assert.Equal(t, "points[0].lng is required", GetValidationFields(err)["points[0].lng"])
	})

	t.Run("limit out of range", func(t *testing.T) {
		s := testRequest{Name: "x", Limit: 51, Points: []point{{Lat: f(1), Lng: f(1)}}}

		err := ValidateStruct(&s)
		require.Error(t, err)
		assert.Contains(t, GetValidationFields(err), "limit")
		assert.Contains(t, err.Error(), "validation failed")
	})
}

func TestIsValidationError(t *testing.T) {
	assert.False(t, IsValidationError(assert.AnError))
	assert.Nil(t, GetValidationFields(assert.AnError))
}

func TestParseFloatParam(t *testing.T) {
	values := url.Values{"userLat": {"-15.7942"}, "bad": {"abc"}, "blank": {" "}}

	v, err := ParseFloatParam(values, "userLat")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, -15.7942, *v)

	v, err = ParseFloatParam(values, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseFloatParam(values, "blank")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseFloatParam(values, "bad")
	assert.True(t, IsValidationError(err))
	assert.Contains(t, GetValidationFields(err), "bad")
}

func TestParseIntParam(t *testing.T) {
	values := url.Values{"limit": {"5"}, "bad": {"x"}}

	n, err := ParseIntParam(values, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = ParseIntParam(values, "missing", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	_, err = ParseIntParam(values, "bad", 10)
	assert.Error(t, err)
}
