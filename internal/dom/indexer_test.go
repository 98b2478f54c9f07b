package dom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/dom/htmlsnap"
)

// mockDriver is a testify mock of the browser driver capability.
type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Snapshot(ctx context.Context) (*schemas.RawSnapshot, error) {
	args := m.Called(ctx)
	snap, _ := args.Get(0).(*schemas.RawSnapshot)
	return snap, args.Error(1)
}

func (m *mockDriver) Dispatch(ctx context.Context, p schemas.Primitive) (schemas.Outcome, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(schemas.Outcome), args.Error(1)
}

func (m *mockDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *mockDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockDriver) Close() error { return m.Called().Error(0) }

func testSnapshot(t *testing.T) *schemas.RawSnapshot {
	snap, err := htmlsnap.ParseString(`<html><body><a href="/x">X</a></body></html>`, "https://example.com/")
	require.NoError(t, err)
	return snap
}

func TestIndexerCapture(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		d := new(mockDriver)
		d.On("Snapshot", mock.Anything).Return(testSnapshot(t), nil).Once()

		ix := NewIndexer(d, zaptest.NewLogger(t), time.Millisecond)
		idx, err := ix.Capture(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, idx.Len())
		d.AssertExpectations(t)
	})

	t.Run("navigation in progress is retried once", func(t *testing.T) {
		d := new(mockDriver)
		d.On("Snapshot", mock.Anything).Return(nil, schemas.ErrNavigating).Once()
		d.On("Snapshot", mock.Anything).Return(testSnapshot(t), nil).Once()

		ix := NewIndexer(d, zaptest.NewLogger(t), time.Millisecond)
		idx, err := ix.Capture(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/", idx.URL())
		d.AssertNumberOfCalls(t, "Snapshot", 2)
	})

	t.Run("closed page surfaces CaptureError after retry", func(t *testing.T) {
		d := new(mockDriver)
		d.On("Snapshot", mock.Anything).Return(nil, schemas.ErrPageClosed).Twice()

		ix := NewIndexer(d, zaptest.NewLogger(t), time.Millisecond)
		_, err := ix.Capture(context.Background())
		var capErr *CaptureError
		require.True(t, errors.As(err, &capErr))
		assert.Equal(t, 2, capErr.Attempts)
		assert.ErrorIs(t, err, schemas.ErrPageClosed)
		d.AssertNumberOfCalls(t, "Snapshot", 2)
	})

	t.Run("empty snapshot is a capture failure", func(t *testing.T) {
		d := new(mockDriver)
		d.On("Snapshot", mock.Anything).Return(&schemas.RawSnapshot{}, nil).Twice()

		ix := NewIndexer(d, zaptest.NewLogger(t), time.Millisecond)
		_, err := ix.Capture(context.Background())
		var capErr *CaptureError
		assert.True(t, errors.As(err, &capErr))
	})

	t.Run("cancellation is returned as is", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d := new(mockDriver)
		d.On("Snapshot", mock.Anything).Return(nil, context.Canceled).Once()

		ix := NewIndexer(d, zaptest.NewLogger(t), time.Hour)
		_, err := ix.Capture(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		var capErr *CaptureError
		assert.False(t, errors.As(err, &capErr))
	})
}
