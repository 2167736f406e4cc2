package gossip

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(id, topic string) *Message {
	return &Message{ID: id, From: "sender", Topics: []string{topic}}
}

// ============================================================================
//                              消息缓存测试
// ============================================================================

func TestMessageCachePutGet(t *testing.T) {
	mc := NewMessageCache(5, 3, clock.NewMock())

	msg := testMessage("m1", "news")
	mc.Put(msg)

	got, ok := mc.GetMessage("m1")
	require.True(t, ok)
	assert.Equal(t, msg, got)
	assert.True(t, mc.Has("m1"))

	_, ok = mc.GetMessage("unknown")
	assert.False(t, ok)
}

func TestMessageCacheWindowEviction(t *testing.T) {
	mc := NewMessageCache(5, 3, clock.NewMock())
	mc.Put(testMessage("m1", "news"))

	// 窗口内仍可检索
	for i := 0; i < 4; i++ {
		mc.Shift()
		assert.True(t, mc.Has("m1"), "shift %d", i+1)
	}

	// 第 5 次滑动淘汰最老窗口
	mc.Shift()
	assert.False(t, mc.Has("m1"))
	assert.Equal(t, 0, mc.Size())
}

func TestMessageCacheGossipWindow(t *testing.T) {
	mc := NewMessageCache(5, 3, clock.NewMock())

	mc.Put(testMessage("old", "news"))
	mc.Shift()
	mc.Shift()
	mc.Shift()
	mc.Put(testMessage("recent", "news"))
	mc.Put(testMessage("other-topic", "sports"))

	// gossip 窗口只覆盖最近 3 个窗口，且只含目标主题
	ids := mc.GetGossipIDs("news")
	assert.Equal(t, []string{"recent"}, ids)

	// 完整缓存仍保留旧消息（可响应 IWANT）
	assert.True(t, mc.Has("old"))
}

// ============================================================================
//                              已见缓存测试
// ============================================================================

func TestSeenCacheFirstAddWins(t *testing.T) {
	sc := NewSeenCache(120*time.Second, 1000, clock.NewMock())

	assert.True(t, sc.Add("m1"))
	assert.False(t, sc.Add("m1"))
	assert.True(t, sc.Has("m1"))
}

func TestSeenCacheConcurrentAdd(t *testing.T) {
	sc := NewSeenCache(120*time.Second, 1000, clock.NewMock())

	const workers = 64
	var wg sync.WaitGroup
	results := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- sc.Add("contested")
		}()
	}
	wg.Wait()
	close(results)

	// 任意并发下恰好一个 Add 返回 true
	trues := 0
	for ok := range results {
		if ok {
			trues++
		}
	}
	assert.Equal(t, 1, trues)
}

func TestSeenCacheTTLExpiry(t *testing.T) {
	mock := clock.NewMock()
	sc := NewSeenCache(120*time.Second, 1000, mock)

	require.True(t, sc.Add("m1"))
	mock.Add(119 * time.Second)
	assert.False(t, sc.Add("m1"))

	mock.Add(2 * time.Second)
	assert.False(t, sc.Has("m1"))
	assert.True(t, sc.Add("m1")) // 过期后重新登记
}

func TestSeenCacheEvictsWhenFull(t *testing.T) {
	mock := clock.NewMock()
	sc := NewSeenCache(120*time.Second, 10, mock)

	for i := 0; i < 10; i++ {
		sc.Add(fmt.Sprintf("m%d", i))
		mock.Add(time.Second)
	}
	require.Equal(t, 10, sc.Size())

	// 已满且无过期条目：淘汰最老条目腾位
	assert.True(t, sc.Add("m10"))
	assert.LessOrEqual(t, sc.Size(), 10)
	assert.True(t, sc.Has("m10"))
}

func TestSeenCacheCleanup(t *testing.T) {
	mock := clock.NewMock()
	sc := NewSeenCache(120*time.Second, 1000, mock)

	sc.Add("m1")
	mock.Add(121 * time.Second)
	sc.Add("m2")

	sc.Cleanup()
	assert.Equal(t, 1, sc.Size())
	assert.True(t, sc.Has("m2"))
}

// ============================================================================
//                              IWANT 追踪测试
// ============================================================================

func TestIWantFulfillStopsTracking(t *testing.T) {
	mock := clock.NewMock()
	tracker := NewIWantTracker(3*time.Second, mock)

	tracker.Track("m1", "p1")
	assert.Equal(t, 1, tracker.Pending())

	tracker.Fulfill("m1")
	assert.Equal(t, 0, tracker.Pending())

	mock.Add(4 * time.Second)
	assert.Empty(t, tracker.GetBrokenPromises())
}

func TestIWantBrokenPromises(t *testing.T) {
	mock := clock.NewMock()
	tracker := NewIWantTracker(3*time.Second, mock)

	tracker.Track("m1", "p1")
	tracker.Track("m2", "p1")
	tracker.Track("m3", "p2")

	mock.Add(4 * time.Second)
	broken := tracker.GetBrokenPromises()
	assert.Equal(t, 2, broken["p1"])
	assert.Equal(t, 1, broken["p2"])
	assert.Equal(t, 0, tracker.Pending())

	// 失约只统计一次
	assert.Empty(t, tracker.GetBrokenPromises())
}

func TestIWantNotBrokenBeforeTimeout(t *testing.T) {
	mock := clock.NewMock()
	tracker := NewIWantTracker(3*time.Second, mock)

	tracker.Track("m1", "p1")
	mock.Add(2 * time.Second)

	assert.Empty(t, tracker.GetBrokenPromises())
	assert.Equal(t, 1, tracker.Pending())
}

// ============================================================================
//                              退避追踪测试
// ============================================================================

func TestBackoffTrackerCleanup(t *testing.T) {
	mock := clock.NewMock()
	bt := NewBackoffTracker(mock)

	bt.AddBackoff("p1", "news", 10*time.Second)
	bt.AddBackoff("p2", "news", 100*time.Second)

	mock.Add(11 * time.Second)
	bt.Cleanup()

	assert.False(t, bt.IsBackedOff("p1", "news"))
	assert.True(t, bt.IsBackedOff("p2", "news"))
}
