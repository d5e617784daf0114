package handler

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func TestParseInstant(t *testing.T) {
	d, err := parseInstant("2026-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), d)

	end, err := parseInstant("2026-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 23, 59, 59, 999999000, time.UTC), end)

	ts, err := parseInstant("2026-03-01T10:30:00-03:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 30, 0, 0, time.UTC), ts)

	_, err = parseInstant("01/03/2026", false)
	assert.Error(t, err)
}

func ctxWithQuery(q string) (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest("GET", "/x?"+q, nil)
	return c, rec
}

func TestReportRange_Defaults(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	c, _ := ctxWithQuery("")
	desde, hasta, ok := reportRange(c, now)
	require.True(t, ok)
	assert.Equal(t, now, hasta)
	assert.Equal(t, now.AddDate(0, 0, -30), desde)
}

func TestReportRange_ToIsInclusive(t *testing.T) {
	c, _ := ctxWithQuery("from=2026-03-01&to=2026-03-01")
	desde, hasta, ok := reportRange(c, time.Now())
	require.True(t, ok)
	assert.True(t, hasta.After(desde))
	assert.Equal(t, 1, hasta.Day())
	assert.Equal(t, 23, hasta.Hour())
}

func TestOptionalRange_Invalid(t *testing.T) {
	c, rec := ctxWithQuery("from=ayer")
	_, _, ok := optionalRange(c)
	assert.False(t, ok)
	assert.Equal(t, 422, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"validation"`)
}
