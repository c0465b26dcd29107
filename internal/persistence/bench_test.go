package persistence_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/basket/workforce/internal/persistence"
	"github.com/basket/workforce/internal/task"
)

func benchManifest(id, employee string) *task.Manifest {
	return &task.Manifest{
		ID:         id,
		EmployeeID: employee,
		SessionKey: "agent:" + employee + ":workforce-" + id,
		Status:     task.StatusRunning,
		Stage:      task.StageExecute,
		Brief:      "bench " + id,
		CreatedAt:  time.Now().UTC(),
	}
}

// BenchmarkTaskStoreUpdate measures the read-modify-write path every bridge
// event takes.
func BenchmarkTaskStoreUpdate(b *testing.B) {
	ctx := context.Background()
	s, err := persistence.NewTaskStore(afero.NewOsFs(), filepath.Join(b.TempDir(), "tasks"))
	if err != nil {
		b.Fatalf("NewTaskStore: %v", err)
	}
	if err := s.Create(ctx, benchManifest("t1", "e1")); err != nil {
		b.Fatalf("Create: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := float64(i%100) / 100
		if _, err := s.Update(ctx, "t1", task.Patch{Progress: &p}); err != nil {
			b.Fatalf("Update: %v", err)
		}
	}
}

// BenchmarkTaskStoreConcurrentTasks measures updates to distinct tasks
// running in parallel.
func BenchmarkTaskStoreConcurrentTasks(b *testing.B) {
	ctx := context.Background()
	s, err := persistence.NewTaskStore(afero.NewOsFs(), filepath.Join(b.TempDir(), "tasks"))
	if err != nil {
		b.Fatalf("NewTaskStore: %v", err)
	}
	const tasks = 8
	for i := 0; i < tasks; i++ {
		if err := s.Create(ctx, benchManifest(fmt.Sprintf("t%d", i), fmt.Sprintf("e%d", i))); err != nil {
			b.Fatalf("Create: %v", err)
		}
	}

	b.ResetTimer()
	var wg sync.WaitGroup
	for w := 0; w < tasks; w++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < b.N/tasks+1; i++ {
				p := 0.5
				if _, err := s.Update(ctx, id, task.Patch{Progress: &p}); err != nil {
					b.Errorf("Update %s: %v", id, err)
					return
				}
			}
		}(fmt.Sprintf("t%d", w))
	}
	wg.Wait()
}

// BenchmarkJournalAppend measures one journal insert.
func BenchmarkJournalAppend(b *testing.B) {
	ctx := context.Background()
	j, err := persistence.OpenJournal(filepath.Join(b.TempDir(), "journal.db"), nil)
	if err != nil {
		b.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()
	payload := map[string]any{"taskId": "t1", "progress": 0.5}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := j.Append(ctx, "t1", "task.progress", payload, time.Now()); err != nil {
			b.Fatalf("Append: %v", err)
		}
	}
}
