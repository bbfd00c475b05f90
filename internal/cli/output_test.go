package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError_Error(t *testing.T) {
	withCause := WrapExitError(ExitCommandError, "failed to connect", errors.New("dial tcp: timeout"))
	assert.Equal(t, "failed to connect: dial tcp: timeout", withCause.Error())

	bare := NewExitError(ExitFailure, "subscription stuck")
	assert.Equal(t, "subscription stuck", bare.Error())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad dsn")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain error")))
}

func TestExitError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapExitError(ExitCommandError, "failed to connect", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestWriteResult_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	err := WriteResult(buf, "text", "hello", func(w io.Writer, data interface{}) {
		_, _ = w.Write([]byte(data.(string)))
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())
}

func TestWriteResult_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	err := WriteResult(buf, "json", map[string]string{"driver": "postgres"}, nil)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}
