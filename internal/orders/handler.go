package orders

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

const maxImageSize = 10 << 20

// Handler exposes the order workflows.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{quoteID}", func(r chi.Router) {
		r.Get("/", h.load)
		r.Put("/items", h.saveItems)
		r.Post("/items", h.addItem)
		r.Put("/packaging", h.savePackaging)
		r.Put("/verification", h.saveVerification)
		r.Put("/returns/{itemID}", h.saveReturn)
		r.Delete("/returns/{itemID}", h.deleteReturn)
		r.Post("/returns/{itemID}/images", h.uploadImage)
		r.Delete("/returns/{itemID}/images/{fileID}", h.deleteImage)
		r.Post("/split", h.split)
		r.Post("/documents", h.invoice)
		r.Get("/credit", h.credit)
		r.Get("/export.xlsx", h.exportXLSX)
		r.Get("/packing-slip.pdf", h.packingSlip)
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, quoteID int64, err error) {
	if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrConflict) {
		h.logger.Error("orders "+op, slog.Int64("quote_id", quoteID), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Load(r.Context(), quoteID)
	if err != nil {
		h.fail(w, "load", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type itemsPayload struct {
	Items []OrderItem `json:"items"`
}

func (h *Handler) saveItems(w http.ResponseWriter, r *http.Request) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload itemsPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.SaveItems(r.Context(), quoteID, payload.Items)
	if err != nil {
		h.fail(w, "save items", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req AddItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.AddItem(r.Context(), quoteID, req)
	if err != nil {
		h.fail(w, "add item", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) savePackaging(w http.ResponseWriter, r *http.Request) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var entries map[int64]PackagingDataItem
	if err := httpx.DecodeJSON(r, &entries); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.SavePackaging(r.Context(), quoteID, entries)
	if err != nil {
		h.fail(w, "save packaging", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) saveVerification(w http.ResponseWriter, r *http.Request) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var entries map[int64]VerificationDataItem
	if err := httpx.DecodeJSON(r, &entries); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.SaveVerification(r.Context(), quoteID, entries)
	if err != nil {
		h.fail(w, "save verification", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) saveReturn(w http.ResponseWriter, r *http.Request) {
	quoteID, itemID, err := quoteItemParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ReturnInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.SaveReturn(r.Context(), quoteID, itemID, in)
	if err != nil {
		h.fail(w, "save return", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) deleteReturn(w http.ResponseWriter, r *http.Request) {
	quoteID, itemID, err := quoteItemParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.DeleteReturn(r.Context(), quoteID, itemID)
	if err != nil {
		h.fail(w, "delete return", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	quoteID, itemID, err := quoteItemParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+1<<20)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		httpx.RespondError(w, httpx.NewValidationError(map[string]string{"file": "required"}))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.RespondError(w, httpx.NewValidationError(map[string]string{"file": "required"}))
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		httpx.RespondError(w, httpx.NewValidationError(map[string]string{"file": "max"}))
		return
	}
	image, err := h.service.UploadReturnImage(r.Context(), quoteID, itemID, header.Filename, content)
	if err != nil {
		h.fail(w, "upload return image", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, image)
}

func (h *Handler) deleteImage(w http.ResponseWriter, r *http.Request) {
	quoteID, itemID, err := quoteItemParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	fileID, err := httpx.IDParam(r, "fileID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.DeleteReturnImage(r.Context(), quoteID, itemID, fileID)
	if err != nil {
		h.fail(w, "delete return image", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type splitPayload struct {
	Allocation map[int64]float64 `json:"allocation"`
}

type splitProblem struct {
	httpx.ProblemDetail
	SubQuoteID int64 `json:"subQuoteId"`
	Orphaned   bool  `json:"orphaned"`
}

func (h *Handler) split(w http.ResponseWriter, r *http.Request) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload splitPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Split(r.Context(), quoteID, payload.Allocation)
	if err != nil {
		var splitErr *SplitError
		if errors.As(err, &splitErr) {
			h.logger.Error("orders split", slog.Int64("quote_id", quoteID), slog.Int64("sub_quote_id", splitErr.SubQuoteID),
				slog.Bool("orphaned", splitErr.Orphaned), slog.Any("error", err))
			httpx.JSON(w, http.StatusBadGateway, splitProblem{
				ProblemDetail: httpx.ProblemDetail{Title: "Split Failed", Status: http.StatusBadGateway, Detail: err.Error()},
				SubQuoteID:    splitErr.SubQuoteID,
				Orphaned:      splitErr.Orphaned,
			})
			return
		}
		h.fail(w, "split", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) invoice(w http.ResponseWriter, r *http.Request) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req InvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	res, err := h.service.Invoice(r.Context(), quoteID, req)
	// A result with an error means the document exists but a follow-up step
	// failed; the service logged it and the client still gets the number.
	if err != nil && res == nil {
		h.fail(w, "invoice", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) credit(w http.ResponseWriter, r *http.Request) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.CustomerCredit(r.Context(), quoteID)
	if err != nil {
		h.fail(w, "credit", quoteID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) exportXLSX(w http.ResponseWriter, r *http.Request) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	raw, name, err := h.service.ExportXLSX(r.Context(), quoteID)
	if err != nil {
		h.fail(w, "export", quoteID, err)
		return
	}
	writeFile(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", name, raw)
}

func (h *Handler) packingSlip(w http.ResponseWriter, r *http.Request) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pdf, err := h.service.PackingSlip(r.Context(), quoteID)
	if err != nil {
		h.fail(w, "packing slip", quoteID, err)
		return
	}
	writeFile(w, "application/pdf", fmt.Sprintf("lista-pakowania-%d.pdf", quoteID), pdf)
}

func writeFile(w http.ResponseWriter, contentType, name string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func quoteItemParams(r *http.Request) (int64, int64, error) {
	quoteID, err := httpx.IDParam(r, "quoteID")
	if err != nil {
		return 0, 0, err
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		return 0, 0, err
	}
	return quoteID, itemID, nil
}
