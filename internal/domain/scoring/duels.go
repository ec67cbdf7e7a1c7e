package scoring

import "github.com/okian/duelrank/internal/domain/model"

// Policy controls duel expansion. Each win yields WinMultiplicity duels for
// the winner and each tie yields TieMultiplicity duels in each direction.
type Policy struct {
	WinMultiplicity int `json:"win_multiplicity"`
	TieMultiplicity int `json:"tie_multiplicity"`
}

// DefaultPolicy counts a win once and a tie as one win for each side.
var DefaultPolicy = Policy{WinMultiplicity: 1, TieMultiplicity: 1}

// ExpandDuels turns tallies into directed duels. Pairs are visited in
// canonical order so the result is reproducible.
func ExpandDuels(ts model.Tallies, p Policy) []model.Duel {
	var out []model.Duel
	for _, pair := range ts.SortedPairs() {
		t := ts[pair]
		fwd := model.Duel{Winner: pair.First, Loser: pair.Second}
		rev := model.Duel{Winner: pair.Second, Loser: pair.First}
		for range t.WinsFirst * p.WinMultiplicity {
			out = append(out, fwd)
		}
		for range t.WinsSecond * p.WinMultiplicity {
			out = append(out, rev)
		}
		for range t.Ties * p.TieMultiplicity {
			out = append(out, fwd, rev)
		}
	}
	return out
}

// Index is a dense 0..n-1 numbering of items.
type Index struct {
	ids []model.ItemID
	pos map[model.ItemID]int
}

// IndexItems numbers items in order of first appearance, winner before
// loser within each duel.
func IndexItems(duels []model.Duel) Index {
	ix := Index{pos: make(map[model.ItemID]int)}
	for _, d := range duels {
		ix.add(d.Winner)
		ix.add(d.Loser)
	}
	return ix
}

func (ix *Index) add(id model.ItemID) int {
	if i, ok := ix.pos[id]; ok {
		return i
	}
	ix.pos[id] = len(ix.ids)
	ix.ids = append(ix.ids, id)
	return len(ix.ids) - 1
}

// Len returns the number of indexed items.
func (ix Index) Len() int { return len(ix.ids) }

// ID returns the item at position i.
func (ix Index) ID(i int) model.ItemID { return ix.ids[i] }

// Pos returns the position of id.
func (ix Index) Pos(id model.ItemID) (int, bool) {
	i, ok := ix.pos[id]
	return i, ok
}

// IDs returns the items in index order.
func (ix Index) IDs() []model.ItemID {
	out := make([]model.ItemID, len(ix.ids))
	copy(out, ix.ids)
	return out
}
