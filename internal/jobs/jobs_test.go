package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"courier-backend/internal/consolidation"

	"go.uber.org/zap"
)

type fakeConsolidator struct {
	mu      sync.Mutex
	calls   []uint
	failFor uint
	block   chan struct{}
}

func (f *fakeConsolidator) AutoConsolidate(ctx context.Context, branchID, userID uint) (*consolidation.AutoResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, branchID)
	f.mu.Unlock()
	if branchID == f.failFor {
		return nil, errors.New("db down")
	}
	return &consolidation.AutoResult{Consolidated: 1}, nil
}

func TestAutoConsolidateJobVisitsEveryBranch(t *testing.T) {
	fake := &fakeConsolidator{failFor: 2}
	job := NewAutoConsolidateJob(fake, "@every 1m", []uint{1, 2, 3}, 9, zap.NewNop())

	job.Execute(context.Background())

	if len(fake.calls) != 3 {
		t.Errorf("a failing branch must not stop the run, calls=%v", fake.calls)
	}
	if !job.Ready(time.Now()) {
		t.Errorf("job should be ready again after a run")
	}
}

func TestAutoConsolidateJobSkipsWhileBusy(t *testing.T) {
	fake := &fakeConsolidator{block: make(chan struct{})}
	job := NewAutoConsolidateJob(fake, "@every 1m", []uint{1}, 9, zap.NewNop())

	done := make(chan struct{})
	go func() {
		job.Execute(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for job.Ready(time.Now()) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if job.Ready(time.Now()) {
		t.Fatal("job should report busy during a run")
	}
	job.Execute(context.Background()) // ikinci çalıştırma hemen döner

	close(fake.block)
	<-done
	if len(fake.calls) != 1 {
		t.Errorf("overlapping run must be skipped, calls=%v", fake.calls)
	}
}

func TestAutoConsolidateJobStopsOnCancel(t *testing.T) {
	fake := &fakeConsolidator{}
	job := NewAutoConsolidateJob(fake, "@every 1m", []uint{1, 2}, 9, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job.Execute(ctx)
	if len(fake.calls) != 0 {
		t.Errorf("cancelled run should not touch branches, calls=%v", fake.calls)
	}
}

func TestOrchestratorRejectsBadSchedule(t *testing.T) {
	job := NewAutoConsolidateJob(&fakeConsolidator{}, "not a cron", nil, 0, zap.NewNop())
	if _, err := NewOrchestrator(zap.NewNop(), job).Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}

	ok := NewAutoConsolidateJob(&fakeConsolidator{}, "@every 1h", nil, 0, zap.NewNop())
	c, err := NewOrchestrator(zap.NewNop(), ok).Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("expected one cron entry, got %d", len(c.Entries()))
	}
	c.Stop()
}
