// Package mocks provides testify mocks of the collaborator interfaces shared
// across packages.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
)

// -- Browser Driver Mock --

// MockBrowserDriver mocks schemas.BrowserDriver.
type MockBrowserDriver struct {
	mock.Mock
}

var _ schemas.BrowserDriver = (*MockBrowserDriver)(nil)

func (m *MockBrowserDriver) Snapshot(ctx context.Context) (*schemas.RawSnapshot, error) {
	args := m.Called(ctx)
	snap, _ := args.Get(0).(*schemas.RawSnapshot)
	return snap, args.Error(1)
}

func (m *MockBrowserDriver) Dispatch(ctx context.Context, p schemas.Primitive) (schemas.Outcome, error) {
	args := m.Called(ctx, p)
	out, _ := args.Get(0).(schemas.Outcome)
	return out, args.Error(1)
}

func (m *MockBrowserDriver) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockBrowserDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBrowserDriver) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Chat Model Mock --

// MockChatModel mocks schemas.ChatModel.
type MockChatModel struct {
	mock.Mock
}

var _ schemas.ChatModel = (*MockChatModel)(nil)

func (m *MockChatModel) Complete(ctx context.Context, messages []schemas.Message) (schemas.Completion, error) {
	args := m.Called(ctx, messages)
	c, _ := args.Get(0).(schemas.Completion)
	return c, args.Error(1)
}

// -- Capturer Mock --

// MockCapturer mocks dom.Capturer.
type MockCapturer struct {
	mock.Mock
}

var _ dom.Capturer = (*MockCapturer)(nil)

func (m *MockCapturer) Capture(ctx context.Context) (*dom.ElementIndex, error) {
	args := m.Called(ctx)
	idx, _ := args.Get(0).(*dom.ElementIndex)
	return idx, args.Error(1)
}
