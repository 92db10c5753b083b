package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/liftedinit/credledger/internal/models"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

// FindBlocksQuery is the parsed query of GET /v1/blocks/find.
type FindBlocksQuery struct {
	Filter models.BlockFilter
	Page   int64 `validate:"min=1"`
	Limit  int64 `validate:"min=1,max=100"`
}

// InRange reports whether Skip fits in an int64. Page and Limit must already be positive.
func (q FindBlocksQuery) InRange() bool {
	return q.Page-1 <= math.MaxInt64/q.Limit
}

func (q FindBlocksQuery) Skip() int64 {
	return (q.Page - 1) * q.Limit
}

// parseFindBlocksQuery accepts the filter either as a JSON object (filter={"collection":"degrees"})
// or in bracket form (filter[collection]=degrees). Unknown filter keys are ignored.
func parseFindBlocksQuery(values url.Values) (FindBlocksQuery, error) {
	q := FindBlocksQuery{Page: defaultPage, Limit: defaultLimit}

	if raw := values.Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q.Filter); err != nil {
			return q, fmt.Errorf("filter must be a JSON object: %w", err)
		}
	} else {
		q.Filter.Collection = values.Get("filter[collection]")
		q.Filter.CollectionID = values.Get("filter[collectionId]")
	}

	var err error
	if q.Page, err = parseIntParam(values, "page", defaultPage); err != nil {
		return q, err
	}
	if q.Limit, err = parseIntParam(values, "limit", defaultLimit); err != nil {
		return q, err
	}

	return q, nil
}

func parseIntParam(values url.Values, name string, def int64) (int64, error) {
	raw := values.Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}

func subjectFromPath(r *http.Request) models.Subject {
	vars := mux.Vars(r)
	return models.Subject{
		Collection:   vars["collection"],
		CollectionID: vars["collectionId"],
	}
}
