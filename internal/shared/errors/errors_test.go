package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := New(CodeNotFound, "missing")
	assert.Equal(t, "[NOT_FOUND] missing", err.Error())

	wrapped := Wrap(CodeIO, "remove directory", fs.ErrPermission)
	assert.Equal(t, "[IO_ERROR] remove directory: permission denied", wrapped.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	err := IO("write icon", fs.ErrPermission)
	assert.True(t, stderrors.Is(err, fs.ErrPermission))
}

func TestIs_MatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("service: %w", NotFound("app_1"))

	assert.True(t, Is(err, CodeNotFound))
	assert.False(t, Is(err, CodeConflict))
	assert.True(t, stderrors.Is(err, ErrNotFound))
	assert.False(t, stderrors.Is(err, ErrConflict))
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"plain error", stderrors.New("boom"), ""},
		{"conflict", Conflict("app_1"), CodeConflict},
		{"nested", fmt.Errorf("outer: %w", Wrap(CodePartialCleanup, "cleanup", IO("rm", fs.ErrExist))), CodePartialCleanup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}
