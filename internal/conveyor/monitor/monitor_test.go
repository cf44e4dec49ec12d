package monitor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoteSuccess_ResetsConsecutiveCount(t *testing.T) {
	m := NewErrorMonitor(Config{})
	assert.Nil(t, m.NoteError(errors.New("boom"), "doc-1"))
	assert.Nil(t, m.NoteError(errors.New("boom"), "doc-2"))
	assert.Equal(t, 2, m.ConsecutiveErrorCount())

	m.NoteSuccess()
	assert.Equal(t, 0, m.ConsecutiveErrorCount())
	assert.Equal(t, 2, m.TotalErrorCount())
	assert.Equal(t, 1, m.SuccessCount())
}

func TestNoteError_TripsOnEleventhConsecutiveError(t *testing.T) {
	m := NewErrorMonitor(Config{MaxConsecutiveErrors: 10})
	for i := 0; i < 10; i++ {
		assert.Nil(t, m.NoteError(errors.New("boom"), "doc"))
	}
	err := m.NoteError(errors.New("boom"), "doc")
	require.Error(t, err)
	assert.Equal(t, KindConsecutiveErrors, KindOf(err))
}

func TestNoteError_TripsOnTotalErrors(t *testing.T) {
	m := NewErrorMonitor(Config{MaxConsecutiveErrors: 2, MaxTotalErrors: 4})
	for i := 0; i < 4; i++ {
		m.NoteSuccess()
		m.NoteSuccess()
		assert.Nil(t, m.NoteError(errors.New("boom"), "doc"))
	}
	m.NoteSuccess()
	err := m.NoteError(errors.New("boom"), "doc")
	require.Error(t, err)
	assert.Equal(t, KindTotalErrors, KindOf(err))
}

func TestNoteError_ConsecutiveTakesPriorityOverTotal(t *testing.T) {
	m := NewErrorMonitor(Config{MaxConsecutiveErrors: 2, MaxTotalErrors: 2})
	assert.Nil(t, m.NoteError(errors.New("boom"), "doc"))
	assert.Nil(t, m.NoteError(errors.New("boom"), "doc"))
	err := m.NoteError(errors.New("boom"), "doc")
	require.Error(t, err)
	assert.Equal(t, KindConsecutiveErrors, KindOf(err))
}

func TestNoteError_TripsOnWindowRatio(t *testing.T) {
	m := NewErrorMonitor(Config{
		MaxConsecutiveErrors: 100,
		MaxTotalErrors:       100,
		WindowSize:           4,
		WindowErrorRatio:     0.5,
	})

	// Alternate success/error so neither count threshold trips. Once the
	// window is full at a 50% ratio nothing trips, one more error does.
	m.NoteSuccess()
	assert.Nil(t, m.NoteError(errors.New("boom"), "doc"))
	m.NoteSuccess()
	assert.Nil(t, m.NoteError(errors.New("boom"), "doc"))

	err := m.NoteError(errors.New("boom"), "doc")
	require.Error(t, err)
	assert.Equal(t, KindWindowErrors, KindOf(err))
}

func TestNoteError_WindowNotCheckedUntilFull(t *testing.T) {
	m := NewErrorMonitor(Config{
		MaxConsecutiveErrors: 100,
		MaxTotalErrors:       100,
		WindowSize:           10,
		WindowErrorRatio:     0.1,
	})
	for i := 0; i < 9; i++ {
		assert.Nil(t, m.NoteError(errors.New("boom"), "doc"))
	}
}

func TestNoteError_ReSignalsFatalKind(t *testing.T) {
	m := NewErrorMonitor(Config{})
	fatal := NewError(KindJobCanceled, errors.New("canceled externally"))
	err := m.NoteError(fatal, "doc")
	require.Error(t, err)
	assert.Equal(t, KindJobCanceled, KindOf(err))
}

func TestFinalize_NoDocumentsProcessed(t *testing.T) {
	m := NewErrorMonitor(Config{})
	assert.Nil(t, m.Finalize())
}

func TestFinalize_PassesUnderRatio(t *testing.T) {
	m := NewErrorMonitor(Config{TotalErrorRatio: 0.5})
	for i := 0; i < 9; i++ {
		m.NoteSuccess()
	}
	assert.Nil(t, m.NoteError(errors.New("boom"), "doc"))
	assert.Nil(t, m.Finalize())
}

func TestFinalize_TripsOverRatio(t *testing.T) {
	m := NewErrorMonitor(Config{MaxConsecutiveErrors: 100, TotalErrorRatio: 0.2})
	m.NoteSuccess()
	assert.Nil(t, m.NoteError(errors.New("boom"), "doc"))
	err := m.Finalize()
	require.Error(t, err)
	assert.Equal(t, KindOverallErrors, KindOf(err))
}

func TestErrorQueue_DropsOldestOnOverflow(t *testing.T) {
	m := NewErrorMonitor(Config{MaxConsecutiveErrors: 100, ErrorQueueSize: 3})
	for i := 0; i < 5; i++ {
		assert.Nil(t, m.NoteError(errors.Errorf("boom %d", i), "doc"))
	}
	queue := m.Errors()
	require.Len(t, queue, 3)
	assert.Contains(t, queue[0].Message, "boom 2")
	assert.Contains(t, queue[2].Message, "boom 4")
	require.NotNil(t, m.LastError())
	assert.Contains(t, m.LastError().Message, "boom 4")
}

func TestWrap_KeepsExistingCorrelationID(t *testing.T) {
	original := NewError(KindUnexpected, errors.New("boom"))
	wrapped := Wrap(original)
	assert.Equal(t, original.CorrelationID, wrapped.CorrelationID)

	fresh := Wrap(errors.New("boom"))
	assert.NotEmpty(t, fresh.CorrelationID)
	assert.Equal(t, KindUnexpected, fresh.Kind)
}
