package etl_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/etl"
)

func TestScheduleManagerRunsRegisteredPipelineImmediately(t *testing.T) {
	registry := newRegistry()
	audit := &recordingAudit{}
	p := etl.NewPipeline("scheduled-1", "org-1", registry, audit, zap.NewNop())

	runs := make(chan struct{}, 5)
	p.AddExtractor(func(context.Context) ([]etl.Record, error) {
		return []etl.Record{{"id": 1, "timestamp": time.Now()}}, nil
	})
	p.AddLoader(func(context.Context, []etl.Record) (interface{}, error) {
		runs <- struct{}{}
		return nil, nil
	})

	mgr := etl.NewScheduleManager(zap.NewNop())
	require.NoError(t, mgr.SchedulePipeline(p, etl.ScheduleSpec{IntervalMinutes: 1, MaxRetries: 2, RetryDelay: 10 * time.Millisecond}))

	mgr.RunNow(p.ID())

	select {
	case <-runs:
	case <-time.After(time.Second):
		t.Fatal("expected RunNow to dispatch the pipeline")
	}
	assert.Equal(t, etl.StateSuccess, p.LastRun().State)
}

func TestScheduleManagerRetriesFailedRunUpToMaxRetries(t *testing.T) {
	registry := newRegistry()
	audit := &recordingAudit{}
	p := etl.NewPipeline("scheduled-2", "org-1", registry, audit, zap.NewNop())

	attempts := make(chan struct{}, 10)
	p.AddExtractor(func(context.Context) ([]etl.Record, error) {
		attempts <- struct{}{}
		return nil, assertErr
	})

	mgr := etl.NewScheduleManager(zap.NewNop())
	require.NoError(t, mgr.SchedulePipeline(p, etl.ScheduleSpec{IntervalMinutes: 1, MaxRetries: 2, RetryDelay: 5 * time.Millisecond}))

	mgr.RunNow(p.ID())

	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(time.Second):
			t.Fatalf("expected attempt %d", i+1)
		}
	}
}

func TestScheduleSpecDailyAtAccepted(t *testing.T) {
	mgr := etl.NewScheduleManager(zap.NewNop())
	registry := newRegistry()
	audit := &recordingAudit{}
	p := etl.NewPipeline("daily-1", "org-1", registry, audit, zap.NewNop())
	p.AddExtractor(func(context.Context) ([]etl.Record, error) { return []etl.Record{{"id": 1}}, nil })
	p.AddLoader(func(context.Context, []etl.Record) (interface{}, error) { return nil, nil })

	require.NoError(t, mgr.SchedulePipeline(p, etl.ScheduleSpec{DailyAt: "09:30"}))
}

func TestScheduleSpecInvalidDailyAtRejected(t *testing.T) {
	mgr := etl.NewScheduleManager(zap.NewNop())
	registry := newRegistry()
	audit := &recordingAudit{}
	p := etl.NewPipeline("daily-2", "org-1", registry, audit, zap.NewNop())

	err := mgr.SchedulePipeline(p, etl.ScheduleSpec{DailyAt: "not-a-time"})
	assert.Error(t, err)
}

var assertErr = errBoom{}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
