package statistics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type PrerenderRecordList struct {
	recordAddChan chan *PrerenderRecord
	records       map[string]*PrerenderRecord
	mu            sync.RWMutex
	dumpFile      string
}

// PrerenderRecord counts requests answered by the prerender service, per host.
type PrerenderRecord struct {
	Host       string    `json:"host"`
	Count      int       `json:"count"`
	LastStatus int       `json:"last_status"`
	LastURL    string    `json:"last_url"`
	LastSeen   time.Time `json:"last_seen"`
}

func NewPrerenderRecordList(dumpFile string) *PrerenderRecordList {
	return &PrerenderRecordList{
		recordAddChan: make(chan *PrerenderRecord, 100),
		records:       make(map[string]*PrerenderRecord, 100),
		dumpFile:      dumpFile,
	}
}

func (l *PrerenderRecordList) Add(record *PrerenderRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := record.LastSeen
	if seen.IsZero() {
		seen = time.Now()
	}
	if r, exists := l.records[record.Host]; exists {
		r.Count++
		r.LastStatus = record.LastStatus
		r.LastURL = record.LastURL
		r.LastSeen = seen
		return
	}
	l.records[record.Host] = &PrerenderRecord{
		Host:       record.Host,
		Count:      1,
		LastStatus: record.LastStatus,
		LastURL:    record.LastURL,
		LastSeen:   seen,
	}
}

// Records returns copies sorted by count, highest first.
func (l *PrerenderRecordList) Records() []PrerenderRecord {
	l.mu.RLock()
	records := make([]PrerenderRecord, 0, len(l.records))
	for _, r := range l.records {
		records = append(records, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Count != records[j].Count {
			return records[i].Count > records[j].Count
		}
		return records[i].Host < records[j].Host
	})
	return records
}

func (l *PrerenderRecordList) Dump() {
	writeLines(l.dumpFile, func(w io.Writer) error {
		for _, r := range l.Records() {
			if _, err := fmt.Fprintf(w, "%s %d %d %s\n", r.Host, r.Count, r.LastStatus, r.LastURL); err != nil {
				return err
			}
		}
		return nil
	})
}
