package ipcerr

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsErrnoNilIsZero(t *testing.T) {
	assert.Equal(t, syscall.Errno(0), AsErrno(nil))
}

func TestAsErrnoMapsKindToErrno(t *testing.T) {
	assert.Equal(t, syscall.ESRCH, AsErrno(New(NotFound, "x")))
	assert.Equal(t, syscall.EEXIST, AsErrno(New(Exists, "x")))
	assert.Equal(t, syscall.EINVAL, AsErrno(New(InvalidArgument, "x")))
	assert.Equal(t, syscall.EPERM, AsErrno(New(PermissionDenied, "x")))
	assert.Equal(t, syscall.ENOTSUP, AsErrno(New(NotImplemented, "x")))
}

func TestAsErrnoUnwrapsTransientErrno(t *testing.T) {
	err := Wrap(syscall.EAGAIN, "try again")

	assert.Equal(t, syscall.EAGAIN, AsErrno(err))
}

func TestAsErrnoTreatsOpaqueErrorAsEIO(t *testing.T) {
	assert.Equal(t, syscall.EIO, AsErrno(errors.New("boom")))
}

func TestErrorMessageFallsBackToKindString(t *testing.T) {
	e := &Error{Kind: NotFound}

	assert.Equal(t, "not found", e.Error())
}

func TestErrorPreservesExplicitMessage(t *testing.T) {
	e := New(InvalidArgument, "missing label")

	assert.Equal(t, "missing label", e.Error())
}
