package ledger

import (
	"sjsage522/cardledger/internal/crawler"
)

// Ledger is the full set of orders captured over all runs
type Ledger struct {
	// Known is handed to the crawlers, which add every accepted id to it
	Known   crawler.IDSet
	Records []crawler.OrderRecord

	ids crawler.IDSet
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		Known: crawler.IDSet{},
		ids:   crawler.IDSet{},
	}
}

// Len returns the number of stored records
func (l *Ledger) Len() int {
	return len(l.Records)
}

// Append adds records whose id is not stored yet. A stored record is never
// replaced. It returns how many were added.
func (l *Ledger) Append(records ...crawler.OrderRecord) int {
	added := 0
	for _, r := range records {
		if r.ID == "" || l.ids.Has(r.ID) {
			continue
		}
		l.ids.Add(r.ID)
		l.Known.Add(r.ID)
		l.Records = append(l.Records, r)
		added++
	}
	return added
}

// CountBySection returns the number of records per section
func (l *Ledger) CountBySection() map[crawler.Section]int {
	counts := make(map[crawler.Section]int)
	for _, r := range l.Records {
		counts[r.Section]++
	}
	return counts
}
