// Package demo contains a self-contained connector that synthesizes
// documents instead of talking to a real source. It exists so the service
// can be run end to end, particularly in local mode, without standing up a
// third-party system.
package demo

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/conveyorproject/conveyor/internal/conveyor/connectors"
	"github.com/conveyorproject/conveyor/internal/conveyor/ingest"
	"github.com/conveyorproject/conveyor/internal/conveyor/model"
)

const (
	ServiceType = "demo"
	// documentsField configures how many documents one sync yields.
	documentsField = "documents"
	defaultCount   = 100
)

type Connector struct{}

func New() *Connector {
	return &Connector{}
}

func (c *Connector) ServiceType() string { return ServiceType }

func (c *Connector) ConfigurableFields() []string { return []string{documentsField} }

func (c *Connector) Open(_ context.Context, settings *model.ConnectorSettings, cursors map[string]string) (connectors.DocumentSource, error) {
	count := defaultCount
	if raw, ok := settings.Configuration[documentsField]; ok && raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid %q configuration %q", documentsField, raw)
		}
		count = parsed
	}
	// Resume from the cursor if the previous run was suspended mid-stream.
	position := 0
	if raw, ok := cursors["position"]; ok {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 && parsed <= count {
			position = parsed
		}
	}
	return &source{count: count, position: position}, nil
}

type source struct {
	count    int
	position int
}

func (s *source) Next(context.Context) (connectors.Doc, error) {
	if s.position >= s.count {
		return connectors.Doc{}, io.EOF
	}
	i := s.position
	s.position++
	return connectors.Doc{
		Action: connectors.ActionCreateOrUpdate,
		Fields: ingest.Document{
			"id":    fmt.Sprintf("demo-%d", i),
			"title": fmt.Sprintf("Demo document %d", i),
			"body":  "Synthesized by the demo connector.",
		},
	}, nil
}

func (s *source) Cursors() map[string]string {
	return map[string]string{"position": strconv.Itoa(s.position)}
}

func (s *source) Close() error { return nil }
