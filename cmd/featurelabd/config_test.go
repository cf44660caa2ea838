package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/featurelab/pkg/config"
)

func TestAppConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     appConfig
		wantErr string
	}{
		{name: "defaults", cfg: appConfig{AssignmentBackend: "postgres", EventBackend: "postgres"}},
		{name: "redis and mongo", cfg: appConfig{RedisEnabled: true, AssignmentBackend: "redis", EventBackend: "mongo"}},
		{name: "unknown assignment backend", cfg: appConfig{AssignmentBackend: "redsi", EventBackend: "postgres"}, wantErr: "ASSIGNMENT_BACKEND"},
		{name: "unknown event backend", cfg: appConfig{AssignmentBackend: "postgres", EventBackend: "kafka"}, wantErr: "EVENT_BACKEND"},
		{name: "redis assignments without redis", cfg: appConfig{AssignmentBackend: "redis", EventBackend: "postgres"}, wantErr: "REDIS_ENABLED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAppConfig_EnvDefaultsAreValid(t *testing.T) {
	var app appConfig
	require.NoError(t, config.Load(&app))
	assert.NoError(t, app.validate())
}
