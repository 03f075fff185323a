package debugger

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugErrorString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "flush: io: write: EOF", newError(KindIO, "flush", "write", io.EOF).Error())
	assert.Equal(t, "response-timeout: timeout waiting for response", ErrResponseTimeout.Error())
	assert.Equal(t, "wait_for_response: response-timeout: timeout waiting for response",
		ErrResponseTimeout.WithOp("wait_for_response").Error())
}

func TestDebugErrorIs(t *testing.T) {
	t.Parallel()

	t.Run("sentinel_with_op", func(t *testing.T) {
		assert.ErrorIs(t, ErrResponseTimeout.WithOp("wait"), ErrResponseTimeout)
	})
	t.Run("different_message", func(t *testing.T) {
		err := newError(KindCommunication, "send", "other", nil)
		assert.NotErrorIs(t, err, ErrChannelClosed)
	})
	t.Run("kind_only", func(t *testing.T) {
		err := newError(KindCommunication, "send", "", nil)
		assert.ErrorIs(t, err, ErrChannelClosed)
	})
	t.Run("different_kind", func(t *testing.T) {
		assert.NotErrorIs(t, ErrChannelClosed, ErrResponseTimeout)
	})
	t.Run("cause", func(t *testing.T) {
		err := ErrPayloadTooLarge.WithCause(io.ErrShortWrite)
		assert.ErrorIs(t, err, io.ErrShortWrite)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})
	t.Run("as", func(t *testing.T) {
		var de *DebugError
		wrapped := errors.Join(io.EOF, ErrNoSession)
		assert.ErrorAs(t, wrapped, &de)
		assert.Equal(t, KindSession, de.Kind)
	})
}

func TestErrorKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "variable-inspection", KindVariableInspection.String())
	assert.Equal(t, "unknown", ErrorKind(0).String())
}
