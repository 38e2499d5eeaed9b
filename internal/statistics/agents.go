package statistics

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	agentCacheSize = 256
	agentTTL       = time.Hour
)

// AgentList remembers the crawler user agents seen recently. Entries expire
// after an hour without traffic and the least recently seen agent is evicted
// first when the list is full.
type AgentList struct {
	recordAddChan chan string
	cache         *expirable.LRU[string, AgentRecord]
}

type AgentRecord struct {
	UserAgent string    `json:"user_agent"`
	Count     int       `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
}

func NewAgentList(size int, ttl time.Duration) *AgentList {
	return &AgentList{
		recordAddChan: make(chan string, 100),
		cache:         expirable.NewLRU[string, AgentRecord](size, nil, ttl),
	}
}

func (l *AgentList) Add(ua string) {
	record, ok := l.cache.Get(ua)
	if !ok {
		record = AgentRecord{UserAgent: ua}
	}
	record.Count++
	record.LastSeen = time.Now()
	l.cache.Add(ua, record)
}

// Records returns the live entries, most recently seen first.
func (l *AgentList) Records() []AgentRecord {
	values := l.cache.Values()
	records := make([]AgentRecord, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		records = append(records, values[i])
	}
	return records
}

func (l *AgentList) Len() int {
	return l.cache.Len()
}
