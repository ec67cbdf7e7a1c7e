package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/types"
	"github.com/okian/duelrank/pkg/logger"
)

// DefaultRemoteTimeout bounds each request to a remote server.
const DefaultRemoteTimeout = 10 * time.Second

// ErrRemote is returned when the remote server rejects or fails a request.
var ErrRemote = errors.New("remote server error")

// RemoteStats counts the outcome of a remote submission.
type RemoteStats struct {
	Submitted  int64
	Accepted   int64
	Duplicates int64
	Failed     int64
	Spearman   float64
	Ranking    types.RankingSummary
}

// Remote replays a simulation against a running server.
type Remote struct {
	baseURL string
	client  *http.Client
	workers int
	log     logger.Logger
}

// NewRemote returns a client for the server at baseURL.
func NewRemote(baseURL string, workers int, timeout time.Duration, log logger.Logger) (*Remote, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: bad base url %q", ErrInvalidConfig, baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		workers: max(workers, 1),
		log:     log,
	}, nil
}

// Replay submits every ballot of res, asks the server to publish a ranking
// and correlates the published scores with the latent qualities.
func (r *Remote) Replay(ctx context.Context, res *Result) (RemoteStats, error) {
	var stats RemoteStats
	if res == nil {
		return stats, fmt.Errorf("%w: nothing to replay", ErrInvalidConfig)
	}
	if err := r.checkHealth(ctx); err != nil {
		return stats, err
	}
	if err := r.submitBallots(ctx, res.Ballots, &stats); err != nil {
		return stats, err
	}
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%w: %d of %d ballots failed", ErrRemote, stats.Failed, stats.Submitted)
	}

	// Counting is asynchronous; wait for the server to catch up.
	if err := r.awaitBallots(ctx, stats.Accepted); err != nil {
		return stats, err
	}
	if err := r.do(ctx, http.MethodPost, "/rankings", nil, &stats.Ranking); err != nil {
		return stats, err
	}

	var entries []types.Entry
	// Without a limit the server returns as many entries as it allows.
	if err := r.do(ctx, http.MethodGet, "/leaderboard", nil, &entries); err != nil {
		return stats, err
	}
	scores := make(map[model.ItemID]float64, len(entries))
	for _, e := range entries {
		scores[model.ItemID(e.ItemID)] = e.Score
	}
	stats.Spearman = Spearman(res.Items, scores)

	r.log.Info(ctx, "remote replay completed",
		logger.Int64("accepted", stats.Accepted),
		logger.Int64("duplicates", stats.Duplicates),
		logger.Int("ranked", len(entries)),
		logger.Float64("spearman", stats.Spearman))
	return stats, nil
}

func (r *Remote) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrRemote, resp.StatusCode)
	}
	return nil
}

func (r *Remote) submitBallots(ctx context.Context, ballots []model.Ballot, stats *RemoteStats) error {
	r.log.Info(ctx, "submitting ballots", logger.Int("ballots", len(ballots)), logger.Int("workers", r.workers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, b := range ballots {
		g.Go(func() error {
			atomic.AddInt64(&stats.Submitted, 1)
			dup, err := r.submitBallot(ctx, b)
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				atomic.AddInt64(&stats.Failed, 1)
				r.log.Debug(ctx, "ballot failed", logger.String("ballot", b.ID), logger.Error(err))
			case dup:
				atomic.AddInt64(&stats.Duplicates, 1)
			default:
				atomic.AddInt64(&stats.Accepted, 1)
			}
			return nil
		})
	}
	return g.Wait()
}

type ballotBody struct {
	BallotID string `json:"ballot_id"`
	VoterID  string `json:"voter_id,omitempty"`
	ItemA    string `json:"item_a"`
	ItemB    string `json:"item_b"`
	Outcome  string `json:"outcome"`
}

type ack struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// submitBallot posts one ballot and reports whether it was a duplicate.
func (r *Remote) submitBallot(ctx context.Context, b model.Ballot) (bool, error) {
	var a ack
	err := r.do(ctx, http.MethodPost, "/ballots", ballotBody{
		BallotID: b.ID,
		VoterID:  b.VoterID,
		ItemA:    string(b.ItemA),
		ItemB:    string(b.ItemB),
		Outcome:  b.Outcome.String(),
	}, &a)
	return a.Duplicate, err
}

// awaitBallots polls the tallies until want ballots are counted.
func (r *Remote) awaitBallots(ctx context.Context, want int64) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		var t struct {
			Ballots int64 `json:"ballots"`
		}
		if err := r.do(ctx, http.MethodGet, "/tallies", nil, &t); err != nil {
			return err
		}
		if t.Ballots >= want {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d counted ballots, have %d: %w", want, t.Ballots, ctx.Err())
		case <-ticker.C:
		}
	}
}

// do sends body as JSON and decodes a 2xx response into out.
func (r *Remote) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrRemote, method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}
