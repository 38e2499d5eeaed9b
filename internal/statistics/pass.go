package statistics

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

type PassThroughRecordList struct {
	recordAddChan chan *PassThroughRecord
	records       map[string]*PassThroughRecord
	mu            sync.RWMutex
	dumpFile      string
}

// PassThroughRecord counts requests left to the next handler, per reason.
type PassThroughRecord struct {
	Reason  string `json:"reason"`
	Count   int    `json:"count"`
	LastURL string `json:"last_url"`
	LastUA  string `json:"last_ua"`
}

func NewPassThroughRecordList(dumpFile string) *PassThroughRecordList {
	return &PassThroughRecordList{
		recordAddChan: make(chan *PassThroughRecord, 100),
		records:       make(map[string]*PassThroughRecord, 16),
		dumpFile:      dumpFile,
	}
}

func (l *PassThroughRecordList) Add(record *PassThroughRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, exists := l.records[record.Reason]; exists {
		r.Count++
		r.LastURL = record.LastURL
		r.LastUA = record.LastUA
		return
	}
	l.records[record.Reason] = &PassThroughRecord{
		Reason:  record.Reason,
		Count:   1,
		LastURL: record.LastURL,
		LastUA:  record.LastUA,
	}
}

func (l *PassThroughRecordList) Records() []PassThroughRecord {
	l.mu.RLock()
	records := make([]PassThroughRecord, 0, len(l.records))
	for _, r := range l.records {
		records = append(records, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Count != records[j].Count {
			return records[i].Count > records[j].Count
		}
		return records[i].Reason < records[j].Reason
	})
	return records
}

func (l *PassThroughRecordList) Dump() {
	writeLines(l.dumpFile, func(w io.Writer) error {
		for _, r := range l.Records() {
			if _, err := fmt.Fprintf(w, "%s %d %s %q\n", r.Reason, r.Count, r.LastURL, r.LastUA); err != nil {
				return err
			}
		}
		return nil
	})
}
