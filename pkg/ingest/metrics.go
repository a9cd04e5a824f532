package ingest

import (
	"sync"
	"time"
)

// Counters tracks the controller's per-process message accounting. The
// prometheus metrics in pkg/metrics cover scraping; this struct feeds the
// /status and /diagnostics JSON payloads.
type Counters struct {
	mu                sync.Mutex
	messageCount      int64
	successful        int64
	validationErrors  int64
	processingErrors  int64
	lastActivity      time.Time
	totalProcessingMS int64
}

// CountersSnapshot is a copy handed to the HTTP surface
type CountersSnapshot struct {
	MessageCount        int64     `json:"message_count"`
	SuccessfulMessages  int64     `json:"successful_messages"`
	ValidationErrors    int64     `json:"validation_errors"`
	ProcessingErrors    int64     `json:"processing_errors"`
	LastActivity        time.Time `json:"last_activity_ts"`
	AvgProcessingTimeMS int64     `json:"avg_processing_time_ms"`
}

func (c *Counters) recordReceived() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageCount++
	c.lastActivity = time.Now()
}

func (c *Counters) recordSuccess(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successful++
	c.totalProcessingMS += elapsed.Milliseconds()
	c.lastActivity = time.Now()
}

func (c *Counters) recordValidationError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validationErrors++
	c.lastActivity = time.Now()
}

func (c *Counters) recordProcessingError(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processingErrors++
	c.totalProcessingMS += elapsed.Milliseconds()
	c.lastActivity = time.Now()
}

// Snapshot copies the counters.
func (c *Counters) Snapshot() CountersSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := CountersSnapshot{
		MessageCount:       c.messageCount,
		SuccessfulMessages: c.successful,
		ValidationErrors:   c.validationErrors,
		ProcessingErrors:   c.processingErrors,
		LastActivity:       c.lastActivity,
	}
	processed := c.successful + c.processingErrors
	if processed > 0 {
		snap.AvgProcessingTimeMS = c.totalProcessingMS / processed
	}
	return snap
}
