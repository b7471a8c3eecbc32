package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpgateway/mcpgateway/internal/adapter/outbound/cel"
	"github.com/mcpgateway/mcpgateway/internal/domain/capture"
	"github.com/mcpgateway/mcpgateway/internal/domain/session"
	"github.com/mcpgateway/mcpgateway/internal/domain/sse"
	"github.com/mcpgateway/mcpgateway/pkg/mcp"
)

// Exchange carries the connection-scoped attributes shared by every
// capture on one proxied request: which server, which session, and the
// transport context. Client and Server identity are optional; when nil the
// stored session row resolves identity at query time.
type Exchange struct {
	ServerName string
	SessionID  string
	HTTP       capture.HTTPContext
	Client     *mcp.PeerInfo
	Server     *mcp.PeerInfo
}

// captureJob is one unit of work for the background writer. The optional
// backfill runs after the record is written, so an initialize response can
// attach serverInfo to the request row that is already durable.
type captureJob struct {
	record   *capture.Record
	backfill *serverInfoBackfill
}

// serverInfoBackfill attaches serverInfo from an initialize response to
// the stored session of the matching initialize request.
type serverInfoBackfill struct {
	serverName string
	sessionID  string
	requestID  json.RawMessage
	info       *mcp.PeerInfo
}

// CaptureService builds capture records and writes them asynchronously
// through a buffered channel and background worker, so the proxy hot path
// never blocks on storage. All capture operations are best-effort: a
// storage failure is logged, never surfaced to the client.
type CaptureService struct {
	store      capture.Store
	tracker    *session.RequestTracker
	clientInfo *session.InfoStore
	serverInfo *session.InfoStore
	filter     *cel.Filter
	logger     *slog.Logger

	jobs          chan captureJob
	wg            sync.WaitGroup
	stopOnce      sync.Once
	batchSize     int
	flushInterval time.Duration
	drainGrace    time.Duration
	now           func() time.Time

	channelSize int           // Track capacity for monitoring
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64  // Lock-free drop counter
	filterCount atomic.Int64  // Records suppressed by the exclusion filter
	writeCount  atomic.Int64  // Records flushed to the store

	warningThreshold int          // Percentage (0-100), e.g., 80
	lastWarning      atomic.Int64 // Rate-limit warning logs (Unix nanos)

	adaptiveFlushThreshold int // Depth % that triggers faster flushing
}

// CaptureOption configures CaptureService.
type CaptureOption func(*CaptureService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) CaptureOption {
	return func(s *CaptureService) {
		s.batchSize = size
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) CaptureOption {
	return func(s *CaptureService) {
		s.flushInterval = interval
	}
}

// WithChannelSize sets the size of the capture channel buffer.
func WithChannelSize(size int) CaptureOption {
	return func(s *CaptureService) {
		s.jobs = make(chan captureJob, size)
		s.channelSize = size
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) CaptureOption {
	return func(s *CaptureService) {
		s.sendTimeout = timeout
	}
}

// WithDrainGrace bounds the final flush at shutdown. Records still queued
// when the grace expires are lost.
func WithDrainGrace(grace time.Duration) CaptureOption {
	return func(s *CaptureService) {
		if grace > 0 {
			s.drainGrace = grace
		}
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
// A warning is logged when channel depth exceeds this percentage of capacity.
func WithWarningThreshold(percent int) CaptureOption {
	return func(s *CaptureService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.warningThreshold = percent
	}
}

// WithAdaptiveFlushThreshold sets the channel depth % that triggers faster
// flushing. When depth exceeds this %, flush interval drops to 1/4 normal.
// Set to 0 to disable adaptive flushing.
func WithAdaptiveFlushThreshold(percent int) CaptureOption {
	return func(s *CaptureService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.adaptiveFlushThreshold = percent
	}
}

// WithExcludeFilter sets the compiled exclusion filter. A nil filter
// captures everything.
func WithExcludeFilter(f *cel.Filter) CaptureOption {
	return func(s *CaptureService) {
		s.filter = f
	}
}

// WithCaptureClock overrides the time source for tests.
func WithCaptureClock(now func() time.Time) CaptureOption {
	return func(s *CaptureService) {
		s.now = now
	}
}

// NewCaptureService creates a CaptureService writing to store. The tracker
// correlates responses to their requests for duration measurement; the two
// info stores receive client and server identity observed during the
// initialize handshake.
func NewCaptureService(store capture.Store, tracker *session.RequestTracker, clientInfo, serverInfo *session.InfoStore, logger *slog.Logger, opts ...CaptureOption) *CaptureService {
	defaultChannelSize := 1000
	if logger == nil {
		logger = slog.Default()
	}
	s := &CaptureService{
		store:                  store,
		tracker:                tracker,
		clientInfo:             clientInfo,
		serverInfo:             serverInfo,
		logger:                 logger,
		jobs:                   make(chan captureJob, defaultChannelSize),
		batchSize:              100,
		flushInterval:          time.Second,
		drainGrace:             5 * time.Second,
		now:                    time.Now,
		channelSize:            defaultChannelSize,
		sendTimeout:            100 * time.Millisecond,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker that batches and writes records.
func (s *CaptureService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Stop closes the job channel and waits for the worker to drain pending
// records. Safe to call more than once.
func (s *CaptureService) Stop() {
	s.stopOnce.Do(func() {
		close(s.jobs)
	})
	s.wg.Wait()
}

// CaptureRequest records one JSON-RPC request or notification observed on
// the client-to-server path. Requests with an id are tracked so the
// matching response can be timed. An initialize request also feeds the
// observed clientInfo to the client identity store.
func (s *CaptureService) CaptureRequest(ex Exchange, msg *mcp.Message) {
	method := msg.Method()
	if msg.IsRequest() && !msg.IsNotification() {
		s.tracker.Track(msg.IDKey(), method)
	}
	if method == mcp.MethodInitialize {
		if info, err := mcp.ClientInfoFromInitialize(msg); err == nil && info != nil {
			s.clientInfo.Store(ex.SessionID, info)
		}
	}
	if s.excluded(ex.ServerName, method, capture.DirectionRequest) {
		return
	}

	rec := s.newRecord(ex, capture.DirectionRequest)
	rec.Method = method
	rec.ID = normalizeID(msg.RawID())
	rec.Metadata.HTTPStatus = 200
	rec.Metadata.MethodDetail = msg.MethodDetail()
	rec.Request = msg.Raw
	s.enqueue(captureJob{record: rec})
}

// CaptureResponse records one JSON-RPC response delivered as a unary HTTP
// body. The method and duration are resolved against the tracker; unknown
// ids record a duration of 0. An initialize response feeds serverInfo to
// the server identity store and schedules a backfill of the stored
// session.
func (s *CaptureService) CaptureResponse(ex Exchange, msg *mcp.Message, httpStatus int) {
	method, duration := s.resolveResponse(msg)
	job := captureJob{}
	if method == mcp.MethodInitialize {
		job.backfill = s.observeServerInfo(ex, msg)
	}
	if s.excluded(ex.ServerName, method, capture.DirectionResponse) {
		// The backfill still runs: identity resolution must not depend
		// on whether the handshake itself is recorded.
		if job.backfill != nil {
			s.enqueue(job)
		}
		return
	}

	rec := s.newRecord(ex, capture.DirectionResponse)
	rec.Method = method
	rec.ID = normalizeID(msg.RawID())
	rec.Metadata.HTTPStatus = httpStatus
	rec.Metadata.DurationMs = duration
	rec.Response = msg.Raw
	if resp := msg.Response(); resp != nil && len(resp.Result) > 0 {
		rec.Metadata.InputTokens, rec.Metadata.OutputTokens = capture.ExtractTokenUsage(resp.Result)
	}
	job.record = rec
	s.enqueue(job)
}

// CaptureError synthesizes and records a JSON-RPC error response for a
// request that failed in transit. Skipped for notifications: a null id
// never receives a response on the wire, so none is fabricated.
func (s *CaptureService) CaptureError(ex Exchange, req *mcp.Message, cause error, httpStatus int, durationMs int64) {
	id := req.RawID()
	if len(id) == 0 || string(id) == "null" {
		return
	}
	// Drop the pending entry so a late upstream reply cannot match it.
	s.tracker.CalculateDuration(req.IDKey())
	if s.excluded(ex.ServerName, req.Method(), capture.DirectionResponse) {
		return
	}

	rec := s.newRecord(ex, capture.DirectionResponse)
	rec.Method = req.Method()
	rec.ID = id
	rec.Metadata.HTTPStatus = httpStatus
	rec.Metadata.DurationMs = durationMs
	rec.Response = capture.SynthesizeErrorResponse(id, cause)
	s.enqueue(captureJob{record: rec})
}

// CaptureStreamError records the transport failure that terminated an SSE
// stream mid-flight. There is no request to echo an id from, so the
// synthesized envelope is addressed to null.
func (s *CaptureService) CaptureStreamError(ex Exchange, cause error, durationMs int64) {
	if s.excluded(ex.ServerName, "", capture.DirectionResponse) {
		return
	}

	rec := s.newRecord(ex, capture.DirectionResponse)
	rec.Metadata.HTTPStatus = 502
	rec.Metadata.DurationMs = durationMs
	rec.Response = capture.SynthesizeErrorResponse(nil, cause)
	s.enqueue(captureJob{record: rec})
}

// CaptureSSEEvent records a raw SSE frame that carried no recognizable
// JSON-RPC payload.
func (s *CaptureService) CaptureSSEEvent(ex Exchange, ev *sse.Event) {
	if s.excluded(ex.ServerName, "", capture.DirectionSSEEvent) {
		return
	}

	rec := s.newRecord(ex, capture.DirectionSSEEvent)
	rec.Metadata.HTTPStatus = 200
	rec.SSEEvent = ev
	s.enqueue(captureJob{record: rec})
}

// CaptureSSEJsonRpc records a JSON-RPC frame extracted from an SSE stream.
// Response frames are resolved against the tracker like unary responses;
// request frames (server-initiated) are recorded without tracking since
// their replies travel on a different connection.
func (s *CaptureService) CaptureSSEJsonRpc(ex Exchange, ev *sse.Event, msg *mcp.Message) {
	var (
		method   string
		duration int64
		backfill *serverInfoBackfill
	)
	if msg.IsResponse() {
		method, duration = s.resolveResponse(msg)
		if method == mcp.MethodInitialize {
			backfill = s.observeServerInfo(ex, msg)
		}
	} else {
		method = msg.Method()
	}
	if s.excluded(ex.ServerName, method, capture.DirectionSSEJsonRpc) {
		if backfill != nil {
			s.enqueue(captureJob{backfill: backfill})
		}
		return
	}

	rec := s.newRecord(ex, capture.DirectionSSEJsonRpc)
	rec.Method = method
	rec.ID = normalizeID(msg.RawID())
	rec.Metadata.HTTPStatus = 200
	rec.Metadata.DurationMs = duration
	rec.SSEEvent = ev
	if msg.IsResponse() {
		rec.Response = msg.Raw
		if resp := msg.Response(); resp != nil && len(resp.Result) > 0 {
			rec.Metadata.InputTokens, rec.Metadata.OutputTokens = capture.ExtractTokenUsage(resp.Result)
		}
	} else {
		rec.Request = msg.Raw
		rec.Metadata.MethodDetail = msg.MethodDetail()
	}
	s.enqueue(captureJob{record: rec})
}

// resolveResponse looks up the originating method and elapsed time for a
// response. Method must be read before CalculateDuration, which consumes
// the tracker entry.
func (s *CaptureService) resolveResponse(msg *mcp.Message) (string, int64) {
	idKey := msg.IDKey()
	method, _ := s.tracker.Method(idKey)
	duration := s.tracker.CalculateDuration(idKey)
	return method, duration
}

// observeServerInfo extracts serverInfo from an initialize response,
// stores it for session identity lookups, and returns the backfill job
// that attaches it to the persisted session row.
func (s *CaptureService) observeServerInfo(ex Exchange, msg *mcp.Message) *serverInfoBackfill {
	info, err := mcp.ServerInfoFromInitializeResult(msg)
	if err != nil || info == nil {
		return nil
	}
	s.serverInfo.Store(ex.SessionID, info)
	requestID := normalizeID(msg.RawID())
	if len(requestID) == 0 {
		return nil
	}
	return &serverInfoBackfill{
		serverName: ex.ServerName,
		sessionID:  ex.SessionID,
		requestID:  requestID,
		info:       info,
	}
}

// newRecord builds the base record for one observed message.
func (s *CaptureService) newRecord(ex Exchange, direction capture.Direction) *capture.Record {
	return &capture.Record{
		Timestamp: s.now().UTC(),
		Direction: direction,
		Metadata: capture.Metadata{
			ServerName: ex.ServerName,
			SessionID:  ex.SessionID,
			Client:     ex.Client,
			Server:     ex.Server,
			UserAgent:  ex.HTTP.UserAgent,
			ClientIP:   ex.HTTP.ClientIP,
		},
	}
}

// excluded consults the exclusion filter and counts suppressed records.
func (s *CaptureService) excluded(server, method string, direction capture.Direction) bool {
	if !s.filter.Exclude(server, method, string(direction)) {
		return false
	}
	filtered := s.filterCount.Add(1)
	s.logger.Debug("capture excluded by filter",
		"server", server,
		"method", method,
		"direction", direction,
		"total_filtered", filtered,
	)
	return true
}

// enqueue sends a job to the background worker.
// Applies backpressure: attempts fast non-blocking send, then blocks up to
// sendTimeout. If the timeout expires, the job is dropped and counted.
func (s *CaptureService) enqueue(job captureJob) {
	// Check channel depth for early warning (rate-limited)
	if s.warningThreshold > 0 {
		depth := len(s.jobs)
		threshold := s.channelSize * s.warningThreshold / 100
		if depth >= threshold {
			s.warnChannelDepth(depth)
		}
	}

	// Fast path: non-blocking send
	select {
	case s.jobs <- job:
		return
	default:
		// Channel full - apply backpressure
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(job)
		return
	}

	// Slow path: block with timeout
	select {
	case s.jobs <- job:
		return
	case <-time.After(s.sendTimeout):
		s.recordDrop(job)
	}
}

// recordDrop increments the drop counter and logs the loss.
func (s *CaptureService) recordDrop(job captureJob) {
	drops := s.dropCount.Add(1)
	if job.record != nil {
		s.logger.Warn("capture record dropped",
			"server", job.record.Metadata.ServerName,
			"session", job.record.Metadata.SessionID,
			"direction", job.record.Direction,
			"total_drops", drops,
		)
		return
	}
	s.logger.Warn("capture backfill dropped", "total_drops", drops)
}

// warnChannelDepth logs a capacity warning, rate-limited to once per second.
func (s *CaptureService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()

	if now-last < int64(time.Second) {
		return
	}

	// Try to claim this warning slot (CAS for thread safety)
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("capture channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns the total records lost to backpressure.
func (s *CaptureService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// FilteredRecords returns the total records suppressed by the exclusion filter.
func (s *CaptureService) FilteredRecords() int64 {
	return s.filterCount.Load()
}

// WrittenRecords returns the total records flushed to the store.
func (s *CaptureService) WrittenRecords() int64 {
	return s.writeCount.Load()
}

// ChannelDepth returns current channel usage (for monitoring).
func (s *CaptureService) ChannelDepth() int {
	return len(s.jobs)
}

// ChannelCapacity returns the channel buffer size (for percentage calculation).
func (s *CaptureService) ChannelCapacity() int {
	return s.channelSize
}

// worker is the background goroutine that collects and flushes capture jobs.
func (s *CaptureService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]captureJob, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	fastMode := false

	for {
		select {
		case job, ok := <-s.jobs:
			if !ok {
				// Channel closed - final flush with bounded deadline
				if len(batch) > 0 {
					flushCtx, flushCancel := context.WithTimeout(context.Background(), s.drainGrace)
					s.flush(flushCtx, batch)
					flushCancel()
				}
				return
			}
			batch = append(batch, job)

			shouldFlush := len(batch) >= s.batchSize

			// Adaptive: flush early when the channel is under pressure
			if !shouldFlush && s.adaptiveFlushThreshold > 0 {
				depth := len(s.jobs)
				depthPercent := depth * 100 / s.channelSize
				if depthPercent >= s.adaptiveFlushThreshold {
					shouldFlush = true
				}
			}

			if shouldFlush {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

			if s.adaptiveFlushThreshold > 0 {
				depth := len(s.jobs)
				depthPercent := depth * 100 / s.channelSize

				if depthPercent >= s.adaptiveFlushThreshold && !fastMode {
					ticker.Reset(s.flushInterval / 4)
					fastMode = true
				} else if depthPercent < s.adaptiveFlushThreshold && fastMode {
					ticker.Reset(s.flushInterval)
					fastMode = false
				}
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Context cancelled - drain channel and flush with bounded deadline
			for job := range s.jobs {
				batch = append(batch, job)
			}
			if len(batch) > 0 {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), s.drainGrace)
				s.flush(flushCtx, batch)
				flushCancel()
			}
			return
		}
	}
}

// flush writes a batch of jobs in observation order. Errors are logged but
// not propagated: telemetry must not fail proxy operations.
func (s *CaptureService) flush(ctx context.Context, batch []captureJob) {
	for _, job := range batch {
		if job.record != nil {
			if err := s.store.Write(ctx, job.record); err != nil {
				s.logger.Error("failed to write capture record",
					"error", err,
					"server", job.record.Metadata.ServerName,
					"direction", job.record.Direction,
				)
			} else {
				s.writeCount.Add(1)
			}
		}
		if job.backfill != nil {
			b := job.backfill
			if err := s.store.UpdateServerInfoForInitializeRequest(ctx, b.serverName, b.sessionID, b.requestID, b.info); err != nil {
				s.logger.Error("failed to backfill server info",
					"error", err,
					"server", b.serverName,
					"session", b.sessionID,
				)
			}
		}
	}
}

// normalizeID returns the wire id, mapping an explicit null to nil so
// notifications and null-id frames store the same way.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || string(id) == "null" {
		return nil
	}
	return id
}
