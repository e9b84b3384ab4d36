package testutil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario(t *testing.T) {
	c := ScenarioCluster()
	assert.Equal(t, At(1000), c.Time)

	fixes := ScenarioFixes()
	require.Len(t, fixes, 6)
	assert.Equal(t, At(900), fixes[0].Time)
	assert.Equal(t, At(1400), fixes[5].Time)
	for i := 1; i < len(fixes); i++ {
		assert.Greater(t, fixes[i].Lat, fixes[i-1].Lat)
		assert.Greater(t, fixes[i].Lon, fixes[i-1].Lon)
	}

	start, end := ScenarioPeak().Window()
	assert.Less(t, start.Time(), c.Time)
	assert.Greater(t, end.Time(), c.Time)
	assert.Equal(t, 100*time.Millisecond, end.Time().Sub(start.Time()))
}

func TestLocalHostRequest(t *testing.T) {
	req := LocalHostRequest(http.MethodPost, "/debug/tail", nil)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/debug/tail", req.URL.Path)
	assert.Equal(t, "127.0.0.1:12345", req.RemoteAddr)
}
