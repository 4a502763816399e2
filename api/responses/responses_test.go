package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
	"github.com/angelmondragon/ledgergate-backend/pkg/types"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorEnvelope {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"hello": "world"})

	require.Equal(t, http.StatusAccepted, w.Code)
	var body types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "world", body.Data.(map[string]any)["hello"])
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "amount"})
	WriteError(context.Background(), logger.Nop(), w, err)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	require.Equal(t, string(pkgerrors.CodeValidation), body.Error.Code)
	require.Equal(t, "bad input", body.Error.Message)
	require.NotNil(t, body.Error.Details)
}

func TestWriteErrorDefaultsToInternalForUntrustedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	require.Equal(t, string(pkgerrors.CodeInternal), body.Error.Code)
	require.Equal(t, "internal server error", body.Error.Message)
	require.Nil(t, body.Error.Details)
}

func TestWriteErrorMapsLedgerAndApprovalCodes(t *testing.T) {
	cases := map[pkgerrors.Code]int{
		pkgerrors.CodeInvalidAmount:            http.StatusBadRequest,
		pkgerrors.CodeInsufficientBalance:      http.StatusUnprocessableEntity,
		pkgerrors.CodeAllocationMismatch:       http.StatusUnprocessableEntity,
		pkgerrors.CodeNoApplicableChain:        http.StatusUnprocessableEntity,
		pkgerrors.CodeDuplicatePendingApproval: http.StatusConflict,
		pkgerrors.CodeNotPending:               http.StatusConflict,
		pkgerrors.CodeEntryImmutable:           http.StatusConflict,
		pkgerrors.CodeConfigurationMissing:     http.StatusServiceUnavailable,
	}
	for code, status := range cases {
		w := httptest.NewRecorder()
		WriteError(context.Background(), nil, w, pkgerrors.New(code, "specific reason"))
		require.Equal(t, status, w.Code, code)
		require.Equal(t, string(code), decodeError(t, w).Error.Code)
	}
}

func TestWriteErrorKeepsDomainMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "withdrawal exceeds revenue balance"))
	require.Equal(t, "withdrawal exceeds revenue balance", decodeError(t, w).Error.Message)
}
