package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestValidationMiddleware_Disabled(t *testing.T) {
	vm, err := NewValidationMiddleware(&ValidationConfig{Enabled: false}, testLogger())
	require.NoError(t, err)

	handler := vm.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidationMiddleware_NilConfigDefaultsToDisabled(t *testing.T) {
	vm, err := NewValidationMiddleware(nil, testLogger())
	require.NoError(t, err)
	assert.False(t, vm.enabled)
}

func TestValidationMiddleware_MissingSpec(t *testing.T) {
	_, err := NewValidationMiddleware(&ValidationConfig{
		Enabled:  true,
		SpecPath: "/nonexistent/openapi.yaml",
	}, testLogger())
	assert.Error(t, err)
}
