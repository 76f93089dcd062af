package widget

import (
	"sync"
	"time"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient status line. Notices are never written to the
// transcript.
type Notice struct {
	Level NoticeLevel
	Text  string
	At    time.Time
}

type noticeBuffer struct {
	mu      sync.Mutex
	max     int
	notices []Notice
}

func newNoticeBuffer(limit int) *noticeBuffer {
	if limit <= 0 {
		limit = 50
	}
	return &noticeBuffer{max: limit, notices: make([]Notice, 0, limit)}
}

func (b *noticeBuffer) Add(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, n)
	if len(b.notices) > b.max {
		drop := len(b.notices) - b.max
		b.notices = append([]Notice(nil), b.notices[drop:]...)
	}
}

func (b *noticeBuffer) Snapshot() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notice(nil), b.notices...)
}
