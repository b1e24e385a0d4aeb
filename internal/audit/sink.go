// internal/audit/sink.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"placement-broker/internal/common/logger"
	"placement-broker/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

const DefaultIndex = "credit-ledger-audit"

const indexMapping = `{
	"mappings": {
		"properties": {
			"id":             {"type": "keyword"},
			"agencyId":       {"type": "keyword"},
			"kind":           {"type": "keyword"},
			"amount":         {"type": "scaled_float", "scaling_factor": 100},
			"currency":       {"type": "keyword"},
			"reference":      {"type": "keyword"},
			"placementId":    {"type": "keyword"},
			"note":           {"type": "text"},
			"availableAfter": {"type": "scaled_float", "scaling_factor": 100},
			"reservedAfter":  {"type": "scaled_float", "scaling_factor": 100},
			"totalAfter":     {"type": "scaled_float", "scaling_factor": 100},
			"createdAt":      {"type": "date"}
		}
	}
}`

// Sink copies committed ledger entries into an Elasticsearch index. Record
// only enqueues; a background loop does the indexing and drops entries when
// the buffer is full. The ledger in the record store stays authoritative.
type Sink struct {
	client  *elasticsearch.Client
	index   string
	timeout time.Duration
	logger  logger.Logger

	mu      sync.RWMutex
	closed  bool
	entries chan models.LedgerEntry
	done    chan struct{}
}

type Options struct {
	Client     *elasticsearch.Client
	Index      string
	BufferSize int
	Timeout    time.Duration
	Logger     logger.Logger
}

func NewSink(opts Options) *Sink {
	if opts.Index == "" {
		opts.Index = DefaultIndex
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	return &Sink{
		client:  opts.Client,
		index:   opts.Index,
		timeout: opts.Timeout,
		logger:  opts.Logger.WithFields(map[string]interface{}{"component": "ledger-audit", "index": opts.Index}),
		entries: make(chan models.LedgerEntry, opts.BufferSize),
		done:    make(chan struct{}),
	}
}

// EnsureIndex creates the audit index with its mapping unless it already exists.
func (s *Sink) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create audit index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		var body bytes.Buffer
		_, _ = body.ReadFrom(res.Body)
		if strings.Contains(body.String(), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create audit index: %s", res.Status())
	}
	return nil
}

// Record implements ledger.AuditSink.
func (s *Sink) Record(_ context.Context, entry models.LedgerEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.entries <- entry:
	default:
		s.logger.Warn("audit buffer full, entry dropped", map[string]interface{}{
			"entryId":  entry.ID,
			"agencyId": entry.AgencyID,
		})
	}
}

// Run indexes queued entries until Close is called and the queue is drained.
func (s *Sink) Run() {
	defer close(s.done)
	for entry := range s.entries {
		if err := s.indexEntry(entry); err != nil {
			s.logger.WithError(err).Warn("audit indexing failed", map[string]interface{}{
				"entryId":  entry.ID,
				"agencyId": entry.AgencyID,
			})
		}
	}
}

// Close stops accepting entries and waits for Run to drain the queue. Run
// must have been started.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.entries)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) indexEntry(entry models.LedgerEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithDocumentID(entry.ID),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index entry: %s", res.Status())
	}
	return nil
}
