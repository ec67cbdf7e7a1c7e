package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/types"
)

const maxPairingBody = 4 << 20

// PairingDependencies defines the operations the pairing handler needs.
type PairingDependencies interface {
	GeneratePairing(ctx context.Context, req types.PairingRequest) (types.Plan, error)
}

// PairingsHandler builds comparison designs on request.
type PairingsHandler struct {
	deps PairingDependencies
}

// NewPairingsHandler creates a new pairings handler.
func NewPairingsHandler(deps PairingDependencies) *PairingsHandler {
	return &PairingsHandler{deps: deps}
}

type pairingRequest struct {
	Items     []string `json:"items" validate:"omitempty,dive,required,max=256"`
	GroupA    []string `json:"group_a" validate:"omitempty,dive,required,max=256"`
	GroupB    []string `json:"group_b" validate:"omitempty,dive,required,max=256"`
	Degree    int      `json:"degree" validate:"gte=0,lte=10000"`
	BatchSize int      `json:"batch_size" validate:"gte=0"`
	Seed      *int64   `json:"seed"`
}

var (
	errMixedPairing = errors.New("items cannot be combined with group_a or group_b")
	errMissingItems = errors.New("missing items")
	errMissingGroup = errors.New("cross pairing needs both group_a and group_b")
	errTooFewItems  = errors.New("items must name at least two items")
)

func (req pairingRequest) toDomain() (types.PairingRequest, error) {
	if err := validateStruct(req); err != nil {
		return types.PairingRequest{}, err
	}
	cross := len(req.GroupA) > 0 || len(req.GroupB) > 0
	switch {
	case cross && len(req.Items) > 0:
		return types.PairingRequest{}, errMixedPairing
	case cross && (len(req.GroupA) == 0 || len(req.GroupB) == 0):
		return types.PairingRequest{}, errMissingGroup
	case !cross && len(req.Items) == 0:
		return types.PairingRequest{}, errMissingItems
	case !cross && len(req.Items) < 2:
		return types.PairingRequest{}, errTooFewItems
	}
	return types.PairingRequest{
		Items:     itemIDs(req.Items),
		GroupA:    itemIDs(req.GroupA),
		GroupB:    itemIDs(req.GroupB),
		Degree:    req.Degree,
		BatchSize: req.BatchSize,
		Seed:      req.Seed,
	}, nil
}

func itemIDs(in []string) []model.ItemID {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.ItemID, len(in))
	for i, s := range in {
		out[i] = model.ItemID(s)
	}
	return out
}

// HandlePostPairings handles POST /pairings requests.
func (h *PairingsHandler) HandlePostPairings(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_pairings"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req pairingRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPairingBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		fail(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	preq, err := req.toDomain()
	if err != nil {
		fail(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	plan, err := h.deps.GeneratePairing(r.Context(), preq)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}
