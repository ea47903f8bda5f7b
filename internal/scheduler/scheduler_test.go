package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailySchedule(t *testing.T) {
	s := Daily()
	assert.Equal(t, "0 0 * * *", s.Spec())
	assert.Equal(t, "cron(0 0 * * ? *)", s.EventBridgeExpression())
	require.NoError(t, s.Validate())

	from := time.Date(2024, 3, 10, 13, 45, 0, 0, time.UTC)
	next, err := s.Next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), next)
}

func TestEmptyFieldsDefaultToWildcard(t *testing.T) {
	s := Schedule{Minute: "30", Hour: "2"}
	assert.Equal(t, "30 2 * * *", s.Spec())
	assert.NoError(t, s.Validate())
}

func TestEventBridgeExpressionWithDayOfWeek(t *testing.T) {
	s := Schedule{Minute: "0", Hour: "6", DayOfWeek: "MON"}
	assert.Equal(t, "cron(0 6 ? * MON *)", s.EventBridgeExpression())
}

func TestValidateRejectsBadSchedules(t *testing.T) {
	tests := []struct {
		name string
		s    Schedule
	}{
		{"minute out of range", Schedule{Minute: "61", Hour: "0"}},
		{"garbage hour", Schedule{Minute: "0", Hour: "noon"}},
		{"both day fields", Schedule{Minute: "0", Hour: "0", DayOfMonth: "1", DayOfWeek: "MON"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.s.Validate())
		})
	}
}

func TestSchedulerAddAndStop(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.Add(ctx, "redrive", Daily(), func(context.Context) {}))
	assert.Error(t, s.Add(ctx, "broken", Schedule{Minute: "x"}, func(context.Context) {}))
	assert.Equal(t, 1, s.Len())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
