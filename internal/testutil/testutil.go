// Package testutil provides shared test fixtures: a fixed capture clock, a
// small radar/GPS/RFID scenario that yields exactly one fused object, and
// requests that pass the localhost check on debug routes.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/banshee-data/alphascan/internal/fusion"
)

// Base is the capture start of every scenario.
var Base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// At returns Base plus ms milliseconds.
func At(ms int) time.Time {
	return Base.Add(time.Duration(ms) * time.Millisecond)
}

// ScenarioTag is the tag ID ScenarioPeak reports.
const ScenarioTag = "E200-0017"

// ScenarioCluster is one right-side cluster at 1000ms.
func ScenarioCluster() fusion.RadarCluster {
	return fusion.RadarCluster{X: 5, Y: 5, Time: At(1000), Side: fusion.SideRight, Strength: 7, Size: 3}
}

// ScenarioFixes are six fixes from 900ms to 1400ms moving north-east, enough
// for one bearing at the default lag.
func ScenarioFixes() []fusion.GpsFix {
	fixes := make([]fusion.GpsFix, 6)
	for i := range fixes {
		fixes[i] = fusion.GpsFix{
			Lat:  40.0 + float64(i)*0.0001,
			Lon:  -105.0 + float64(i)*0.0001,
			Time: At(900 + i*100),
		}
	}
	return fixes
}

// ScenarioPeak is a tag read spanning the scenario cluster.
func ScenarioPeak() fusion.TagPeak {
	return fusion.TagPeak{
		TagID:     ScenarioTag,
		FirstPeak: fusion.TicksOf(At(950)),
		LastPeak:  fusion.TicksOf(At(1050)),
	}
}

// LocalHostRequest creates an httptest request that appears to come from
// localhost, which tsweb.AllowDebugAccess lets through.
func LocalHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}
