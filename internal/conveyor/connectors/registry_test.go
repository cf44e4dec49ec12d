package connectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorproject/conveyor/internal/conveyor/model"
)

type namedConnector struct {
	serviceType string
}

func (c *namedConnector) ServiceType() string          { return c.serviceType }
func (c *namedConnector) ConfigurableFields() []string { return nil }
func (c *namedConnector) Open(context.Context, *model.ConnectorSettings, map[string]string) (DocumentSource, error) {
	return nil, nil
}

func TestRegistry_LookupAndServiceTypes(t *testing.T) {
	registry, err := NewRegistry(&namedConnector{"sharepoint"}, &namedConnector{"mongodb"})
	require.NoError(t, err)

	connector, ok := registry.Lookup("mongodb")
	require.True(t, ok)
	assert.Equal(t, "mongodb", connector.ServiceType())

	_, ok = registry.Lookup("unknown")
	assert.False(t, ok)

	assert.Equal(t, []string{"mongodb", "sharepoint"}, registry.ServiceTypes())
}

func TestRegistry_RejectsDuplicatesAndEmptyTypes(t *testing.T) {
	_, err := NewRegistry(&namedConnector{"mongodb"}, &namedConnector{"mongodb"})
	assert.Error(t, err)

	_, err = NewRegistry(&namedConnector{""})
	assert.Error(t, err)
}
