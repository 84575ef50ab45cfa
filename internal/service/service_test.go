//go:build !windows

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestForegroundRun(t *testing.T) {
	assert.False(t, IsWindowsService())

	want := errors.New("bind failed")
	called := false
	err := New(zap.NewNop(), func(ctx context.Context) error {
		called = true
		assert.NoError(t, ctx.Err())
		return want
	}).Run()
	assert.True(t, called)
	assert.ErrorIs(t, err, want)
}
