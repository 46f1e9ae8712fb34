package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	ArticlesFetched    int64
	FeedsFailed        int64
	DuplicatesFiltered int64
	LocalFiltered      int64
	GroupsFormed       int64
	BreakingPromoted   int64
	BreakingSkipped    int64 // lock contention or daily cap
	ImagesNormal       int64
	ImagesNoFace       int64
	ImagesAbstract     int64
	StoriesDropped     int64
	JobsSucceeded      int64
	JobsPartial        int64
	JobsFailed         int64
	JobsNoOp           int64
	NotificationsSent  int64

	// Timings
	LastRunDuration    time.Duration
	TotalRunDuration   time.Duration
	AverageRunDuration time.Duration
	RunCount           int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

func (m *Metrics) AddArticlesFetched(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArticlesFetched += int64(n)
}

func (m *Metrics) IncrementFeedsFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedsFailed++
}

func (m *Metrics) IncrementDuplicatesFiltered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesFiltered++
}

func (m *Metrics) IncrementLocalFiltered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LocalFiltered++
}

func (m *Metrics) AddGroupsFormed(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GroupsFormed += int64(n)
}

func (m *Metrics) IncrementBreakingPromoted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BreakingPromoted++
}

func (m *Metrics) IncrementBreakingSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BreakingSkipped++
}

// IncrementImageStage records a successfully generated image at the given
// fallback stage name ("normal", "noface", "abstract").
func (m *Metrics) IncrementImageStage(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch stage {
	case "normal":
		m.ImagesNormal++
	case "noface":
		m.ImagesNoFace++
	case "abstract":
		m.ImagesAbstract++
	}
}

func (m *Metrics) IncrementStoriesDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoriesDropped++
}

func (m *Metrics) RecordJobStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch status {
	case "success":
		m.JobsSucceeded++
	case "partial":
		m.JobsPartial++
	case "failed":
		m.JobsFailed++
	case "noop":
		m.JobsNoOp++
	}
}

func (m *Metrics) IncrementNotificationsSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NotificationsSent++
}

func (m *Metrics) RecordRunDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastRunDuration = duration
	m.TotalRunDuration += duration
	m.RunCount++

	if m.RunCount > 0 {
		m.AverageRunDuration = m.TotalRunDuration / time.Duration(m.RunCount)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"articles_fetched":        m.ArticlesFetched,
		"feeds_failed":            m.FeedsFailed,
		"duplicates_filtered":     m.DuplicatesFiltered,
		"local_filtered":          m.LocalFiltered,
		"groups_formed":           m.GroupsFormed,
		"breaking_promoted":       m.BreakingPromoted,
		"breaking_skipped":        m.BreakingSkipped,
		"images_normal":           m.ImagesNormal,
		"images_noface":           m.ImagesNoFace,
		"images_abstract":         m.ImagesAbstract,
		"stories_dropped":         m.StoriesDropped,
		"jobs_succeeded":          m.JobsSucceeded,
		"jobs_partial":            m.JobsPartial,
		"jobs_failed":             m.JobsFailed,
		"jobs_noop":               m.JobsNoOp,
		"notifications_sent":      m.NotificationsSent,
		"last_run_duration_ms":    m.LastRunDuration.Milliseconds(),
		"average_run_duration_ms": m.AverageRunDuration.Milliseconds(),
		"last_run_time":           m.LastRunTime.Format(time.RFC3339),
		"last_error_time":         m.LastErrorTime.Format(time.RFC3339),
		"last_error":              m.LastError,
		"is_healthy":              m.IsHealthy,
	}
}
