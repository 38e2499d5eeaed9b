package statistics

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const dumpInterval = 5 * time.Second

// Recorder collects request statistics off the request path. Record calls
// never block: when a channel is full the record is dropped.
type Recorder struct {
	Prerendered   *PrerenderRecordList
	PassedThrough *PassThroughRecordList
	InFlight      *InFlightRecordList
	Agents        *AgentList

	dump bool
}

// Snapshot is the JSON shape served by the admin API.
type Snapshot struct {
	Prerendered   []PrerenderRecord   `json:"prerendered"`
	PassedThrough []PassThroughRecord `json:"passed_through"`
	InFlight      []InFlightRecord    `json:"in_flight"`
	CrawlerAgents []AgentRecord       `json:"crawler_agents"`
}

// New returns a Recorder that periodically writes its lists under dumpDir.
// An empty dumpDir disables dumping.
func New(dumpDir string) *Recorder {
	return &Recorder{
		Prerendered:   NewPrerenderRecordList(filepath.Join(dumpDir, "prerender_stats")),
		PassedThrough: NewPassThroughRecordList(filepath.Join(dumpDir, "pass_stats")),
		InFlight:      NewInFlightRecordList(filepath.Join(dumpDir, "inflight_stats")),
		Agents:        NewAgentList(agentCacheSize, agentTTL),
		dump:          dumpDir != "",
	}
}

// Run applies queued records until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(dumpInterval)
	defer ticker.Stop()

	for {
		select {
		case record := <-r.Prerendered.recordAddChan:
			r.Prerendered.Add(record)
		case record := <-r.PassedThrough.recordAddChan:
			r.PassedThrough.Add(record)
		case op := <-r.InFlight.recordChan:
			r.InFlight.apply(op)
		case ua := <-r.Agents.recordAddChan:
			r.Agents.Add(ua)
		case <-ticker.C:
			if r.dump {
				r.Dump()
			}
		case <-ctx.Done():
			if r.dump {
				r.Dump()
			}
			return
		}
	}
}

func (r *Recorder) Dump() {
	r.Prerendered.Dump()
	r.PassedThrough.Dump()
	r.InFlight.Dump()
}

func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		Prerendered:   r.Prerendered.Records(),
		PassedThrough: r.PassedThrough.Records(),
		InFlight:      r.InFlight.Records(),
		CrawlerAgents: r.Agents.Records(),
	}
}

func (r *Recorder) AddPrerender(record *PrerenderRecord) {
	select {
	case r.Prerendered.recordAddChan <- record:
	default:
	}
}

func (r *Recorder) AddPassThrough(record *PassThroughRecord) {
	select {
	case r.PassedThrough.recordAddChan <- record:
	default:
	}
}

func (r *Recorder) AddInFlight(record *InFlightRecord) {
	select {
	case r.InFlight.recordChan <- inFlightOp{record: record}:
	default:
	}
}

func (r *Recorder) RemoveInFlight(record *InFlightRecord) {
	select {
	case r.InFlight.recordChan <- inFlightOp{record: record, remove: true}:
	default:
	}
}

func (r *Recorder) AddCrawlerAgent(ua string) {
	select {
	case r.Agents.recordAddChan <- ua:
	default:
	}
}

// writeLines replaces path with whatever fill writes. The file is written
// beside path and renamed so readers never see a partial dump.
func writeLines(path string, fill func(w io.Writer) error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		slog.Error("stats dump create", slog.String("file", tmp), slog.Any("error", err))
		return
	}

	w := bufio.NewWriter(f)
	err = fill(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		slog.Error("stats dump write", slog.String("file", path), slog.Any("error", err))
		_ = os.Remove(tmp)
	}
}
