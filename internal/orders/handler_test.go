package orders

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fencecraft/crmbridge/internal/bitrix"
)

func newRouter(f *fixture) chi.Router {
	r := chi.NewRouter()
	r.Route("/orders", NewHandler(discardLogger(), f.service).MountRoutes)
	return r
}

func serve(r http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHandlerLoad(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	rr := serve(r, http.MethodGet, "/orders/10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var order Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &order))
	assert.Len(t, order.Items, 2)
	assert.Equal(t, 10, order.Packaging[1].Quality)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/orders/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/orders/99", "").Code)
}

func TestHandlerPackagingValidation(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	rr := serve(r, http.MethodPut, "/orders/10/packaging", `{"1":{"quality":0}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = serve(r, http.MethodPut, "/orders/10/packaging", `{"1":{"quality":4,"packer":"Ola","date":"2026-10-14"}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var order Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &order))
	assert.True(t, order.Packaging[1].Saved)
}

func TestHandlerSplitFailure(t *testing.T) {
	f := newFixture(t)
	f.crm.rowsErr[10] = &bitrix.APIError{Method: "crm.quote.productrows.set", Status: 503}
	r := newRouter(f)

	rr := serve(r, http.MethodPost, "/orders/10/split", `{"allocation":{"1":4}}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	var body splitProblem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, int64(500), body.SubQuoteID)
	assert.False(t, body.Orphaned)
}

func TestHandlerSplit(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	rr := serve(r, http.MethodPost, "/orders/10/split", `{"allocation":{"1":4,"2":5}}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var res SplitResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, int64(500), res.SubQuoteID)
	require.Len(t, res.Original.Items, 1)
}

func TestHandlerDocumentsIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	rr := serve(r, http.MethodPost, "/orders/10/documents", `{"documentType":"FS"}`, "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusCreated, rr.Code)
	var res InvoiceResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "FS", res.Type)

	rr = serve(r, http.MethodPost, "/orders/10/documents", `{"documentType":"FS"}`, "Idempotency-Key", "req-1")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Len(t, f.erp.documents, 1)
}

func TestHandlerReturnImageUpload(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	rr := serve(r, http.MethodPut, "/orders/10/returns/2", `{"quantity":1,"reason":"uszkodzony"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "zdjecie.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/orders/10/returns/2/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var img ReturnImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &img))
	assert.NotZero(t, img.FileID)

	rr = serve(r, http.MethodPost, "/orders/10/returns/2/images", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestHandlerDownloads(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	rr := serve(r, http.MethodGet, "/orders/10/export.xlsx", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "zamowienie-10.xlsx")
	assert.NotEmpty(t, rr.Body.Bytes())

	rr = serve(r, http.MethodGet, "/orders/10/packing-slip.pdf", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.7", rr.Body.String())
}

func TestHandlerCredit(t *testing.T) {
	f := newFixture(t)
	rr := serve(newRouter(f), http.MethodGet, "/orders/10/credit", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, 800.0, view["available"])
	assert.Equal(t, true, view["exceeded"])
}
