package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/soilmap/internal/resolve"
	"github.com/sells-group/soilmap/internal/soil"
)

func resolveJSON(t *testing.T, lat, lon float64) map[string]any {
	t.Helper()
	e, err := resolve.Default()
	require.NoError(t, err)
	res, err := e.Resolve(resolve.Coordinate{Latitude: lat, Longitude: lon})
	require.NoError(t, err)

	b, err := json.Marshal(FromResult(res))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestFromResult_Success(t *testing.T) {
	got := resolveJSON(t, 8.50, 76.95)

	assert.Equal(t, true, got["success"])
	assert.Equal(t, "Kerala", got["state"])
	assert.Equal(t, "Thiruvananthapuram", got["district"])
	assert.Equal(t, "Laterite soil", got["soilType"])
	assert.Equal(t, []any{"Red soil", "Coastal alluvial soil"}, got["soilTypes"])
	assert.Equal(t, "Gravelly clay loam", got["texture"])
	assert.Equal(t, 5.5, got["ph"])
	assert.Equal(t, "4.5-6.0", got["phRange"])
	assert.Equal(t, 1.0, got["organicCarbon"])
	assert.Equal(t, 300.0, got["nValue"])
	assert.Equal(t, 8.0, got["pValue"])
	assert.Equal(t, 120.0, got["kValue"])
	assert.Equal(t, "Medium", got["nStatus"])
	assert.Equal(t, "Low", got["kStatus"])
	assert.Equal(t, "High", got["confidence"])
	assert.Equal(t, 8.50, got["latitude"])
	assert.Equal(t, 76.95, got["longitude"])
}

func TestFromResult_MediumConfidence(t *testing.T) {
	got := resolveJSON(t, 8.90, 76.95)
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "Medium", got["confidence"])
	assert.Equal(t, 8.90, got["latitude"])
}

func TestFromResult_OmitsUnknownAmounts(t *testing.T) {
	// Chennai's primary soil is coastal alluvial, which has no surveyed amounts.
	got := resolveJSON(t, 13.05, 80.2)
	require.Equal(t, "Coastal alluvial soil", got["soilType"])
	assert.NotContains(t, got, "nValue")
	assert.NotContains(t, got, "pValue")
	assert.NotContains(t, got, "kValue")
	assert.Equal(t, "Low", got["pStatus"])
}

func TestFromResult_SoftFailures(t *testing.T) {
	tests := []struct {
		name   string
		result resolve.Result
		code   string
	}{
		{"out of coverage", resolve.Result{Reason: resolve.OutOfCoverage}, CodeOutOfCoverage},
		{"no match", resolve.Result{Reason: resolve.NoMatchWithinThreshold}, CodeNoMatchWithinThreshold},
		{"invalid", resolve.Result{Reason: resolve.InvalidInput}, CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := FromResult(tt.result).(Failure)
			require.True(t, ok)
			assert.False(t, f.Success)
			assert.Equal(t, tt.code, f.Error)
			assert.NotEmpty(t, f.Message)
		})
	}
}

func TestFromError(t *testing.T) {
	status, f := FromError(&resolve.InvalidInputError{Field: "latitude", Reason: "must be a number"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeInvalidInput, f.Error)
	assert.Equal(t, "latitude must be a number", f.Message)

	status, f = FromError(&resolve.InternalError{Err: errors.New("pq: relation geo.soil_regions does not exist")})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternal, f.Error)
	assert.NotContains(t, f.Message, "geo.soil_regions")

	status, f = FromError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternal, f.Error)
}

func TestFailureJSON(t *testing.T) {
	b, err := json.Marshal(NewFailure(CodeOutOfCoverage))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"out_of_coverage","message":"`+failureMessages[CodeOutOfCoverage]+`"}`, string(b))
}

func TestSummarizeRegion(t *testing.T) {
	e, err := resolve.Default()
	require.NoError(t, err)
	r, ok := e.Atlas().Find("Karnataka", "Bengaluru Urban")
	require.True(t, ok)

	s := SummarizeRegion(r, e.Table())
	assert.Equal(t, "Karnataka", s.State)
	assert.Equal(t, "Red soil", s.SoilType)
	assert.True(t, s.Profiled)
	assert.InDelta(t, 12.98156, s.Centroid.Latitude, 1e-4)
	assert.InDelta(t, 77.5925, s.Centroid.Longitude, 1e-4)
}

func TestSoilTypesFrom(t *testing.T) {
	tb, err := soil.Default()
	require.NoError(t, err)

	cat := SoilTypesFrom(tb)
	require.Len(t, cat.SoilTypes, tb.Len())
	assert.Equal(t, "Loam", cat.DefaultProfile.Texture)

	b, err := json.Marshal(cat)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"ph":"Variable"`)
}
