package monitor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_SuccessNotesSuccess(t *testing.T) {
	m := NewErrorMonitor(Config{})
	g := NewGuard(m)

	err := g.YieldSingleDocument("doc-1", func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, 1, m.SuccessCount())
	assert.Equal(t, 0, m.TotalErrorCount())
}

func TestGuard_TolerableErrorIsRecordedNotReturned(t *testing.T) {
	m := NewErrorMonitor(Config{})
	g := NewGuard(m)

	err := g.YieldSingleDocument("doc-1", func() error { return errors.New("flaky upstream") })
	assert.NoError(t, err)
	assert.Equal(t, 1, m.TotalErrorCount())
	require.NotNil(t, m.LastError())
	assert.NotEmpty(t, m.LastError().CorrelationID)
}

func TestGuard_FatalKindShortCircuits(t *testing.T) {
	m := NewErrorMonitor(Config{})
	g := NewGuard(m)

	fatal := NewError(KindJobNotFound, errors.New("job vanished"))
	err := g.YieldSingleDocument("doc-1", func() error { return fatal })
	require.Error(t, err)
	assert.Equal(t, KindJobNotFound, KindOf(err))
	// The monitor was not consulted for a fatal failure.
	assert.Equal(t, 0, m.TotalErrorCount())
}

func TestGuard_ThresholdTripPropagates(t *testing.T) {
	m := NewErrorMonitor(Config{MaxConsecutiveErrors: 2})
	g := NewGuard(m)

	poison := func() error { return errors.New("poison document") }
	assert.NoError(t, g.YieldSingleDocument("doc-1", poison))
	assert.NoError(t, g.YieldSingleDocument("doc-2", poison))
	err := g.YieldSingleDocument("doc-3", poison)
	require.Error(t, err)
	assert.Equal(t, KindConsecutiveErrors, KindOf(err))
}
