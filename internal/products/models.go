package products

type Product struct {
	ID            uint64        `json:"id"`
	Name          string        `json:"name"`
	Origin        string        `json:"origin"`
	CreatedAt     int64         `json:"created_at"`
	CurrentStatus Status        `json:"current_status"`
	History       []StatusEvent `json:"history"`
}

type StatusEvent struct {
	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Record is a product row exactly as the ledger returns it.
type Record struct {
	ID            uint64
	Name          string
	Origin        string
	CreatedAt     uint64
	CurrentStatus uint8
}

// RawHistory is the ledger's parallel-array history of one product.
type RawHistory struct {
	Statuses   []uint8
	Timestamps []uint64
}

func (p Product) Clone() Product {
	c := p
	c.History = append([]StatusEvent(nil), p.History...)
	return c
}

// WithTransition returns a copy of p with status appended to its history.
// p itself is left untouched.
func (p Product) WithTransition(status Status, at int64) Product {
	c := p
	c.History = make([]StatusEvent, len(p.History), len(p.History)+1)
	copy(c.History, p.History)
	c.History = append(c.History, StatusEvent{Status: status, Timestamp: at})
	c.CurrentStatus = status
	return c
}
