package api

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/liftedinit/credledger/internal/ledger"
	"github.com/liftedinit/credledger/internal/models"
)

// BlockPage is a page of a block listing.
type BlockPage struct {
	Total int64           `json:"total"`
	Page  int64           `json:"page"`
	Limit int64           `json:"limit"`
	Items []*models.Block `json:"items"`
}

type FindBlocksResponse struct {
	Blocks BlockPage `json:"blocks"`
}

type BlocksQuantityResponse struct {
	Quantity int64 `json:"quantity"`
}

type CheckBlocksResponse struct {
	Success bool `json:"success"`
}

// BlocksHandler serves the read-only /v1/blocks endpoints.
type BlocksHandler struct {
	store    ledger.Backend
	verifier *ledger.Verifier
	validate *validator.Validate
}

func NewBlocksHandler(store ledger.Backend) *BlocksHandler {
	return &BlocksHandler{
		store:    store,
		verifier: ledger.NewVerifier(store),
		validate: validator.New(),
	}
}

// FindBlocks handles GET /v1/blocks/find.
func (h *BlocksHandler) FindBlocks(w http.ResponseWriter, r *http.Request) {
	query, err := parseFindBlocksQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !query.InRange() {
		writeError(w, http.StatusBadRequest, "page out of range")
		return
	}

	var (
		total  int64
		blocks []*models.Block
	)
	eg, ctx := errgroup.WithContext(r.Context())
	eg.Go(func() error {
		var err error
		total, err = h.store.Count(ctx, query.Filter)
		return err
	})
	eg.Go(func() error {
		var err error
		blocks, err = h.store.Find(ctx, query.Filter, query.Skip(), query.Limit)
		return err
	})
	if err := eg.Wait(); err != nil {
		h.storageFailure(w, r, err)
		return
	}

	if blocks == nil {
		blocks = []*models.Block{}
	}
	writeJSON(w, http.StatusOK, FindBlocksResponse{
		Blocks: BlockPage{
			Total: total,
			Page:  query.Page,
			Limit: query.Limit,
			Items: blocks,
		},
	})
}

// GetBlocksQuantity handles GET /v1/blocks/get-blocks-quantity/{collection}/{collectionId}.
func (h *BlocksHandler) GetBlocksQuantity(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}

	quantity, err := h.store.CountBySubject(r.Context(), subject)
	if err != nil {
		h.storageFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, BlocksQuantityResponse{Quantity: quantity})
}

// CheckBlocks handles GET /v1/blocks/check-blocks/{collection}/{collectionId}.
// A broken chain is a regular answer ({success:false}), not an error status.
func (h *BlocksHandler) CheckBlocks(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}

	result, err := h.verifier.VerifyChain(r.Context(), subject)
	if err != nil {
		h.storageFailure(w, r, err)
		return
	}

	if !result.Valid {
		slog.Warn("Broken block chain", "subject", subject.String(), "brokenAt", *result.BrokenAt, "user", userID(r))
	}
	writeJSON(w, http.StatusOK, CheckBlocksResponse{Success: result.Valid})
}

func (h *BlocksHandler) subject(w http.ResponseWriter, r *http.Request) (models.Subject, bool) {
	subject := subjectFromPath(r)
	if err := h.validate.Struct(subject); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return subject, false
	}
	return subject, true
}

func (h *BlocksHandler) storageFailure(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("Block store failure", "uri", r.RequestURI, "request_id", RequestIDFromContext(r.Context()),
		"user", userID(r), "error", err)
	writeError(w, http.StatusInternalServerError, "block store unavailable")
}

func userID(r *http.Request) string {
	identity, _ := IdentityFromContext(r.Context())
	return identity.UserID
}
