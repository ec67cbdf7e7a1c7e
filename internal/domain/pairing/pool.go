package pairing

import "github.com/okian/duelrank/internal/domain/model"

// pool is a fixed-capacity double-ended queue of candidates. Draws come off
// the back and rejected candidates go to the front, so the buffer never
// grows past its initial size.
type pool struct {
	buf  []model.ItemID
	head int
	size int
}

func newPool(items []model.ItemID) *pool {
	buf := make([]model.ItemID, len(items))
	copy(buf, items)
	return &pool{buf: buf, size: len(buf)}
}

func (p *pool) Len() int { return p.size }

func (p *pool) popBack() model.ItemID {
	p.size--
	return p.buf[(p.head+p.size)%len(p.buf)]
}

func (p *pool) pushFront(id model.ItemID) {
	p.head = (p.head - 1 + len(p.buf)) % len(p.buf)
	p.buf[p.head] = id
	p.size++
}
