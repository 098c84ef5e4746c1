package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/enflame-media/syncrelay/internal/constants"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
)

// AssertAppErrorCode checks that err carries the application error code.
func AssertAppErrorCode(t *testing.T, err error, expectedCode string) bool {
	t.Helper()
	code := apperrors.GetErrorCode(err)
	return assert.Equal(t, expectedCode, code, "error code of %v", err)
}

// AssertCloseCode checks that err terminates a socket with the expected close code.
func AssertCloseCode(t *testing.T, err error, expected constants.CloseCode) bool {
	t.Helper()
	code := apperrors.GetCloseCode(err)
	return assert.Equal(t, expected, code, "close code of %v", err)
}
