package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"turnopos/internal/dto"
	"turnopos/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	jobs []dto.PagoFacturaJob
	err  error
}

func (q *fakeQueue) EnqueuePagoFactura(_ context.Context, job dto.PagoFacturaJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fakePagos struct{ calls int }

func (f *fakePagos) RegistrarPago(_ context.Context, _ uuid.UUID, req dto.PagoFacturaRequest) (*dto.PagoFacturaResponse, error) {
	f.calls++
	return &dto.PagoFacturaResponse{FacturaID: req.FacturaID, Skipped: true, Motivo: "no hay caja abierta"}, nil
}

func billingEngine(t *testing.T, h *PagoFacturaHandler) (*gin.Engine, string, string) {
	t.Helper()
	const secret = "s"
	user := uuid.NewString()
	tok, err := middleware.IssueToken(secret, middleware.JWTClaims{UserID: user, Rol: middleware.RolCajero}, time.Hour)
	require.NoError(t, err)
	r := gin.New()
	r.POST("/pay", middleware.JWTAuth(secret), h.Registrar)
	return r, tok, user
}

func postPago(r *gin.Engine, tok, query string) *httptest.ResponseRecorder {
	body := `{"branchId":"` + uuid.NewString() + `","invoiceId":"F-1","amount":"10.00","paymentMethod":"efectivo"}`
	req := httptest.NewRequest(http.MethodPost, "/pay"+query, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPagoFacturaHandler_Enqueues(t *testing.T) {
	q := &fakeQueue{}
	pagos := &fakePagos{}
	r, tok, user := billingEngine(t, NewPagoFacturaHandler(pagos, q))

	rec := postPago(r, tok, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"invoiceId":"F-1","status":"queued"}`, rec.Body.String())
	require.Len(t, q.jobs, 1)
	assert.Equal(t, user, q.jobs[0].UsuarioID)
	assert.Zero(t, pagos.calls)
}

func TestPagoFacturaHandler_SyncBypassesQueue(t *testing.T) {
	q := &fakeQueue{}
	pagos := &fakePagos{}
	r, tok, _ := billingEngine(t, NewPagoFacturaHandler(pagos, q))

	rec := postPago(r, tok, "?sync=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"skipped":true`)
	assert.Empty(t, q.jobs)
	assert.Equal(t, 1, pagos.calls)
}

func TestPagoFacturaHandler_QueueDown(t *testing.T) {
	q := &fakeQueue{err: errors.New("dial tcp: connection refused")}
	r, tok, _ := billingEngine(t, NewPagoFacturaHandler(&fakePagos{}, q))

	rec := postPago(r, tok, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
