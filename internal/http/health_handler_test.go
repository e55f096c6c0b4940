package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vhttp "visitlens/internal/http"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeGeo bool

func (g fakeGeo) Loaded() bool { return bool(g) }

func TestHealthIndexAction(t *testing.T) {
	tests := []struct {
		name          string
		deps          vhttp.HealthDeps
		wantWarehouse string
		wantGeo       string
	}{
		{"nothing optional configured", vhttp.HealthDeps{}, "disabled", "disabled"},
		{"warehouse reachable", vhttp.HealthDeps{WarehouseConfigured: true, Warehouse: fakePinger{}}, "ok", "disabled"},
		{"warehouse ping fails", vhttp.HealthDeps{WarehouseConfigured: true, Warehouse: fakePinger{err: errors.New("connection reset")}}, "error", "disabled"},
		{"warehouse never connected", vhttp.HealthDeps{WarehouseConfigured: true}, "unavailable", "disabled"},
		{"geolite loaded", vhttp.HealthDeps{Geo: fakeGeo(true)}, "disabled", "ok"},
		{"geolite missing", vhttp.HealthDeps{Geo: fakeGeo(false)}, "disabled", "disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
				DisableMiddleware: true,
				RouteMountFunc: func(s *cartridge.Server) {
					s.Get("/_health", vhttp.HealthIndexAction(tt.deps))
				},
			})

			resp := srv.Get("/_health")
			require.Equal(t, 200, resp.StatusCode)

			var health vhttp.HealthStatus
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
			assert.Equal(t, "ok", health.Status, "optional integrations never degrade the service")
			assert.Equal(t, "ok", health.DBStatus)
			assert.Equal(t, tt.wantWarehouse, health.WarehouseStatus)
			assert.Equal(t, tt.wantGeo, health.GeoIPStatus)
		})
	}
}
