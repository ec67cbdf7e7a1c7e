package simulate

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"github.com/okian/duelrank/internal/domain/model"
)

// tier is a band of latent quality with a relative frequency.
type tier struct {
	name   string
	min    float64
	span   float64
	weight int
}

// Latent quality tiers on a 0.1 to 10 scale. Average items are the most
// common, elite and very weak ones are rare.
var tiers = []tier{
	{name: "average", min: 3.0, span: 4.0, weight: 3},
	{name: "high", min: 7.0, span: 2.0, weight: 1},
	{name: "low", min: 0.1, span: 2.9, weight: 1},
	{name: "elite", min: 9.0, span: 1.0, weight: 1},
	{name: "very_low", min: 0.1, span: 0.9, weight: 1},
	{name: "mid_high", min: 6.0, span: 2.0, weight: 1},
	{name: "mid_low", min: 2.0, span: 2.0, weight: 1},
	{name: "wide", min: 0.1, span: 9.9, weight: 1},
}

// qualityScale converts the 0.1 to 10 quality into a log-strength, so the
// best item beats the worst with probability close to one.
const qualityScale = 0.6

// Item is a simulated item with its latent quality.
type Item struct {
	ID      model.ItemID
	Tier    string
	Quality float64
}

// Theta is the Bradley–Terry strength of the item.
func (it Item) Theta() float64 { return math.Exp(qualityScale * it.Quality) }

func pickTier(rng *rand.Rand) tier {
	total := 0
	for _, t := range tiers {
		total += t.weight
	}
	n := rng.Intn(total)
	for _, t := range tiers {
		if n < t.weight {
			return t
		}
		n -= t.weight
	}
	return tiers[len(tiers)-1]
}

// generateItems draws n items with qualities from the tier mix. Ids are
// zero-padded so their byte order matches creation order.
func generateItems(rng *rand.Rand, n int) []Item {
	width := len(fmt.Sprint(n))
	items := make([]Item, n)
	for i := range items {
		t := pickTier(rng)
		items[i] = Item{
			ID:      model.ItemID(fmt.Sprintf("item-%0*d", width, i)),
			Tier:    t.name,
			Quality: t.min + rng.Float64()*t.span,
		}
	}
	return items
}

// generateVoters returns v voter ids drawn from rng so runs with the same
// seed label ballots identically.
func generateVoters(rng *rand.Rand, v int) ([]string, error) {
	voters := make([]string, v)
	for i := range voters {
		id, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			return nil, fmt.Errorf("voter id: %w", err)
		}
		voters[i] = id.String()
	}
	return voters, nil
}

// vote draws one outcome for a presented pair. The win probability of a
// follows Bradley–Terry; draws within tieBand/2 of it are ties.
func vote(rng *rand.Rand, a, b Item, tieBand float64) model.Outcome {
	ta, tb := a.Theta(), b.Theta()
	p := ta / (ta + tb)
	u := rng.Float64()
	switch {
	case u < p-tieBand/2:
		return model.OutcomeAWins
	case u >= p+tieBand/2:
		return model.OutcomeBWins
	default:
		return model.OutcomeTie
	}
}
