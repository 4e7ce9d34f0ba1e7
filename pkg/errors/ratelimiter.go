package errors

import (
	"sync"
	"time"
)

// 超过该数量的堆栈记录时，清理已过静默期的记录
const maxTrackedStacks = 512

type rateLimiter struct {
	lock   sync.Mutex
	silent time.Duration
	now    func() time.Time
	buffer map[string]*errorStats
}

func newRateLimiter(silent time.Duration) *rateLimiter {
	if silent <= 0 {
		silent = defaultSilence
	}
	return &rateLimiter{
		silent: silent,
		now:    time.Now,
		buffer: map[string]*errorStats{},
	}
}

type errorStats struct {
	// 总计的发生次数
	totalOccurCount int
	// 上次报告过后被静默的次数
	occurCountSinceLastReport int
	// 最近上报时间
	lastReportTime *time.Time
}

// StackBasedRateLimited 同一堆栈在静默期内只上报一次。返回的统计为本次之前的快照。
func (b *rateLimiter) StackBasedRateLimited(stack string) (bool, errorStats) {
	b.lock.Lock()
	defer b.lock.Unlock()
	now := b.now()
	stats := b.buffer[stack]
	if stats == nil {
		if len(b.buffer) >= maxTrackedStacks {
			b.pruneLocked(now)
		}
		stats = &errorStats{}
		b.buffer[stack] = stats
	}
	snapshot := *stats
	stats.totalOccurCount++
	if stats.lastReportTime != nil && now.Sub(*stats.lastReportTime) < b.silent {
		stats.occurCountSinceLastReport++
		return true, snapshot
	}
	stats.occurCountSinceLastReport = 0
	stats.lastReportTime = &now
	return false, snapshot
}

func (b *rateLimiter) pruneLocked(now time.Time) {
	for stack, stats := range b.buffer {
		if stats.lastReportTime == nil || now.Sub(*stats.lastReportTime) >= b.silent {
			delete(b.buffer, stack)
		}
	}
}

func (b *rateLimiter) tracked() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.buffer)
}
