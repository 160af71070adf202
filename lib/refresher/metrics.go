package refresher

// Metrics summarizes one bulk refresh batch.
type Metrics struct {
	TotalSelected int `json:"selected"`
	Refreshed     int `json:"refreshed"`
	NewItems      int `json:"new_items"`
	Errored       int `json:"errored"`
}

func (m *Metrics) Add(other *Metrics) {
	m.TotalSelected += other.TotalSelected
	m.Refreshed += other.Refreshed
	m.NewItems += other.NewItems
	m.Errored += other.Errored
}
