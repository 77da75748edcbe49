package cost

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/foundryproxy/foundry-gateway/internal/domain"
)

func BenchmarkInMemoryTracker_Record(b *testing.B) {
	tracker := NewInMemoryTracker()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		record := UsageRecord{
			UserID:           "user-1",
			RequestID:        fmt.Sprintf("req-%d", i),
			Route:            "chat",
			Model:            "claude-3-5-sonnet",
			Resource:         "myres",
			PromptTokens:     100,
			CompletionTokens: 50,
			CostUSD:          0.01,
			Timestamp:        time.Now(),
		}
		tracker.Record(ctx, record)
	}
}

func BenchmarkInMemoryTracker_Record_Parallel(b *testing.B) {
	tracker := NewInMemoryTracker()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			record := UsageRecord{
				UserID:           fmt.Sprintf("user-%d", i%10),
				RequestID:        fmt.Sprintf("req-%d", i),
				Route:            "chat",
				Model:            "claude-3-5-sonnet",
				Resource:         "myres",
				PromptTokens:     100,
				CompletionTokens: 50,
				CostUSD:          0.01,
				Timestamp:        time.Now(),
			}
			tracker.Record(ctx, record)
			i++
		}
	})
}

func BenchmarkInMemoryTracker_GetUserUsage(b *testing.B) {
	tracker := NewInMemoryTracker()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		record := UsageRecord{
			UserID:           "user-1",
			RequestID:        fmt.Sprintf("req-%d", i),
			Route:            "chat",
			Model:            "claude-3-5-sonnet",
			Resource:         "myres",
			PromptTokens:     100,
			CompletionTokens: 50,
			CostUSD:          0.01,
			Timestamp:        time.Now(),
		}
		tracker.Record(ctx, record)
	}

	since := time.Now().Add(-1 * time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.GetUserUsage(ctx, "user-1", since)
	}
}

func BenchmarkCostCalculator_Calculate(b *testing.B) {
	calc := NewCalculator()
	usage := domain.Usage{
		PromptTokens:     1000,
		CompletionTokens: 500,
		TotalTokens:      1500,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		calc.Calculate("claude-3-5-sonnet", usage)
	}
}
