package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respond(t *testing.T, err error) (int, app.Res) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("trace_id", "trace-1")
	ErrorResponse(c, err)

	var res app.Res
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return w.Code, res
}

func TestErrorResponse_StatusFollowsKind(t *testing.T) {
	wrapped := fmt.Errorf("job 4: %w", code.ErrorVMAlreadyAssigned.Clone().WithDetails("vm 2"))
	status, res := respond(t, wrapped)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, code.ErrorVMAlreadyAssigned.Code(), res.Code)
	assert.Equal(t, "ConflictError", res.Kind)
	assert.Equal(t, "vm 2", res.Details)
	assert.Equal(t, "trace-1", res.TraceID)
	assert.False(t, res.Status)

	status, _ = respond(t, code.ErrorQuotaExceeded)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestErrorResponse_UnknownIsInternal(t *testing.T) {
	status, res := respond(t, stderrors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, code.ErrorServerInternal.Code(), res.Code)
	assert.Equal(t, "disk on fire", res.Details)
}

func TestAppError_CarriesCode(t *testing.T) {
	err := NewAppError(code.ErrorDriver, stderrors.New("bucket gone"))
	assert.ErrorIs(t, err, code.ErrorDriver)
	assert.True(t, IsAppError(fmt.Errorf("wrap: %w", err)))

	status, res := respond(t, err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "bucket gone", res.Details)
}
