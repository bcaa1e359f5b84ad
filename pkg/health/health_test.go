package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type snapshots struct {
	gen uint64
	err error
}

func (s snapshots) Generation() (uint64, error) { return s.gen, s.err }

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.Register("index", IndexCheck(snapshots{gen: 7}))
	c.Register("cache", PingCheck(pinger{err: errors.New("refused")}, true))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, uint64(7), report.Generation)
	assert.Equal(t, "generation 7", report.Components["index"].Message)
	assert.Equal(t, StatusDegraded, report.Components["cache"].Status)

	c.Register("postgres", PingCheck(pinger{err: errors.New("down")}, false))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("index", IndexCheck(snapshots{err: errors.New("index closed")}))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDown, report.Status)

	rec = httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyWithoutCacheStillServes(t *testing.T) {
	c := NewChecker()
	c.Register("index", IndexCheck(snapshots{gen: 3}))
	c.Register("redis", PingCheck(pinger{err: errors.New("refused")}, true))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, uint64(3), report.Components["index"].Generation)
}
