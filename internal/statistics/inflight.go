package statistics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// InFlightRecordList tracks prerender fetches that have started and not yet
// finished. Adds and removes share one channel so a remove is never applied
// before its add. Entries are keyed by the caller's record pointer, so two
// fetches with the same source and target stay distinct.
type InFlightRecordList struct {
	recordChan chan inFlightOp
	records    map[*InFlightRecord]InFlightRecord
	mu         sync.RWMutex
	dumpFile   string
}

type inFlightOp struct {
	record *InFlightRecord
	remove bool
}

type InFlightRecord struct {
	SrcAddr   string    `json:"src_addr"`
	TargetURL string    `json:"target_url"`
	StartTime time.Time `json:"start_time"`
}

func NewInFlightRecordList(dumpFile string) *InFlightRecordList {
	return &InFlightRecordList{
		recordChan: make(chan inFlightOp, 500),
		records:    make(map[*InFlightRecord]InFlightRecord, 500),
		dumpFile:   dumpFile,
	}
}

func (l *InFlightRecordList) Add(record *InFlightRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	startTime := record.StartTime
	if startTime.IsZero() {
		startTime = time.Now()
	}
	l.records[record] = InFlightRecord{
		SrcAddr:   record.SrcAddr,
		TargetURL: record.TargetURL,
		StartTime: startTime,
	}
}

func (l *InFlightRecordList) apply(op inFlightOp) {
	if op.remove {
		l.Remove(op.record)
		return
	}
	l.Add(op.record)
}

func (l *InFlightRecordList) Remove(record *InFlightRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, record)
}

// Records returns copies, newest first.
func (l *InFlightRecordList) Records() []InFlightRecord {
	l.mu.RLock()
	records := make([]InFlightRecord, 0, len(l.records))
	for _, r := range l.records {
		records = append(records, r)
	}
	l.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})
	return records
}

func (l *InFlightRecordList) Dump() {
	writeLines(l.dumpFile, func(w io.Writer) error {
		for _, r := range l.Records() {
			age := int(time.Since(r.StartTime).Seconds())
			if _, err := fmt.Fprintf(w, "%s %s %d\n", r.SrcAddr, r.TargetURL, age); err != nil {
				return err
			}
		}
		return nil
	})
}
