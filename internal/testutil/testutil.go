// Package testutil provides mocks and fixtures shared by package tests.
package testutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

// PNG is the smallest byte sequence detected as image/png.
var PNG = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

// MockDatabase is a mock implementation of the registry record store.
type MockDatabase struct {
	mock.Mock
}

// Insert mocks the Insert method.
func (m *MockDatabase) Insert(ctx context.Context, rec *types.Record) error {
	return m.Called(ctx, rec).Error(0)
}

// Get mocks the Get method.
func (m *MockDatabase) Get(ctx context.Context, id string) (*types.Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Record), args.Error(1)
}

// ListByKind mocks the ListByKind method.
func (m *MockDatabase) ListByKind(ctx context.Context, kind types.Kind) ([]*types.Record, error) {
	args := m.Called(ctx, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.Record), args.Error(1)
}

// UpdateStatus mocks the UpdateStatus method.
func (m *MockDatabase) UpdateStatus(ctx context.Context, id string, status types.SigningStatus) (*types.Record, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Record), args.Error(1)
}

// Delete mocks the Delete method.
func (m *MockDatabase) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// ListIDs mocks the ListIDs method.
func (m *MockDatabase) ListIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// CountByKind mocks the CountByKind method.
func (m *MockDatabase) CountByKind(ctx context.Context) (map[types.Kind]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[types.Kind]int), args.Error(1)
}

// NewMockDatabase creates a mock whose counting query always succeeds.
func NewMockDatabase(t *testing.T) *MockDatabase {
	t.Helper()
	m := new(MockDatabase)
	m.On("CountByKind", mock.Anything).
		Return(map[types.Kind]int{types.KindDownloaded: 0, types.KindSigned: 0}, nil).
		Maybe()
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// IPA builds an in-memory zip archive laid out like an iOS app bundle.
func IPA(t *testing.T, appName string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"Payload/" + appName + ".app/Info.plist": "<plist version=\"1.0\"><dict/></plist>",
		"Payload/" + appName + ".app/" + appName: "\xcf\xfa\xed\xfe",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}
