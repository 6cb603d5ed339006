package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("boom"), exitGeneric},
		{"dependency", fmt.Errorf("%w: postgres: refused", errDependencyUnavailable), exitDependency},
		{"endpoint missing", fmt.Errorf("%w: history.dsn", errEndpointMissing), exitEndpointMissing},
		{"canceled", context.Canceled, exitCanceled},
		{"wrapped canceled", fmt.Errorf("migrate: %w", context.Canceled), exitCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestGatesFromConfig(t *testing.T) {
	cfg, err := loadConfig()
	assert.NoError(t, err)

	gates := gatesFromConfig(cfg.Ontology)
	assert.Equal(t, cfg.Ontology.PublishMinConfidence, gates.PublishMinConfidence)
	assert.Equal(t, cfg.Ontology.ProposedMaxDepth, gates.ProposedMaxDepth)
	assert.GreaterOrEqual(t, gates.PublishMinConfidence, gates.ProposedMinConfidence)
}
