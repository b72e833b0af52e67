package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accessFloor() *Floor {
	return &Floor{
		Service: ServiceConfig{
			Name:         "test-floor",
			DrainTimeout: 10 * time.Second,
		},
		Teams: []TeamConfig{
			{Name: "workers", Type: "worker-pool", Properties: map[string]string{"size": "4"}},
		},
		Offices: []OfficeConfig{{
			Name: "SHOP",
			Functions: []FunctionConfig{
				{Name: "order", Type: "log", Team: "workers", Next: "ship"},
				{Name: "ship", Type: "log", Team: "workers"},
			},
		}},
	}
}

func TestGetPath(t *testing.T) {
	cfg := accessFloor()

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{name: "root service field", path: "service.name", want: "test-floor"},
		{name: "list entry by name", path: "teams.workers.type", want: "worker-pool"},
		{name: "nested list entry", path: "offices.SHOP.functions.order.next", want: "ship"},
		{name: "missing key", path: "service.nope", wantErr: true},
		{name: "missing list entry", path: "teams.nobody", wantErr: true},
		{name: "scalar traversal", path: "service.name.more", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEntity(t *testing.T) {
	cfg := accessFloor()

	got, err := cfg.GetPath("team:workers")
	require.NoError(t, err)
	assert.Equal(t, "worker-pool", got.(TeamConfig).Type)

	got, err = cfg.GetEntity("office:SHOP")
	require.NoError(t, err)
	assert.Len(t, got.(OfficeConfig).Functions, 2)

	got, err = cfg.GetEntity("function:SHOP/ship")
	require.NoError(t, err)
	assert.Equal(t, "ship", got.(FunctionConfig).Name)

	got, err = cfg.GetEntity("function:SHOP/*")
	require.NoError(t, err)
	assert.Len(t, got.([]FunctionConfig), 2)

	got, err = cfg.GetEntity("team:*")
	require.NoError(t, err)
	assert.Len(t, got.([]TeamConfig), 1)

	for _, bad := range []string{"office:NOPE", "team:nobody", "function:SHOP", "function:NOPE/x", "function:SHOP/x", "plugin:echo", "office:"} {
		_, err := cfg.GetEntity(bad)
		assert.Error(t, err, bad)
	}
}
