package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/duelrank/internal/domain/model"
)

const maxBallotBody = 64 << 10

// BallotDependencies defines the operations the ballot handler needs.
type BallotDependencies interface {
	SeenAndRecord(ctx context.Context, id string) bool
	Unrecord(ctx context.Context, id string)
	Enqueue(ctx context.Context, b model.Ballot) error
}

// BallotsHandler accepts crowd ballots.
type BallotsHandler struct {
	deps BallotDependencies
}

// NewBallotsHandler creates a new ballots handler.
func NewBallotsHandler(deps BallotDependencies) *BallotsHandler {
	return &BallotsHandler{deps: deps}
}

type ballotRequest struct {
	BallotID string `json:"ballot_id" validate:"required,max=256"`
	VoterID  string `json:"voter_id" validate:"max=256"`
	ItemA    string `json:"item_a" validate:"required,max=256"`
	ItemB    string `json:"item_b" validate:"required,max=256,nefield=ItemA"`
	Outcome  string `json:"outcome" validate:"required"`
}

// ballot validates the request and converts it to a domain ballot.
func (req ballotRequest) ballot() (model.Ballot, error) {
	if err := validateStruct(req); err != nil {
		return model.Ballot{}, err
	}
	o, err := model.ParseOutcome(req.Outcome)
	if err != nil {
		return model.Ballot{}, err
	}
	return model.Ballot{
		ID:      req.BallotID,
		VoterID: req.VoterID,
		ItemA:   model.ItemID(req.ItemA),
		ItemB:   model.ItemID(req.ItemB),
		Outcome: o,
	}, nil
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// HandlePostBallot handles POST /ballots. A ballot id already seen is
// acknowledged without being counted again.
func (h *BallotsHandler) HandlePostBallot(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_ballot"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ballotRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBallotBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		fail(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	b, err := req.ballot()
	if err != nil {
		fail(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}

	ctx := r.Context()
	if h.deps.SeenAndRecord(ctx, b.ID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	if err := h.deps.Enqueue(ctx, b); err != nil {
		// roll back so the client can retry the same ballot id
		h.deps.Unrecord(ctx, b.ID)
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
