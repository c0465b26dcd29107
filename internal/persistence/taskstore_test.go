package persistence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/basket/workforce/internal/task"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*TaskStore, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	clock := base.Add(time.Hour)
	s, err := NewTaskStore(fsys, "/data/tasks", WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}
	return s, fsys
}

func manifest(id, employee string, created time.Time, status task.Status) *task.Manifest {
	return &task.Manifest{
		ID:         id,
		EmployeeID: employee,
		SessionKey: "agent:" + employee + ":workforce-" + id,
		Status:     status,
		Stage:      task.StageClarify,
		Brief:      "brief " + id,
		CreatedAt:  created,
	}
}

func TestTaskStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	m := manifest("t1", "e1", base, task.StatusPending)
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}
	if err := s.Create(ctx, m); !errors.Is(err, ErrTaskExists) {
		t.Fatalf("duplicate Create err = %v, want ErrTaskExists", err)
	}
}

func TestTaskStore_CreateRejectsInvalid(t *testing.T) {
	s, _ := newTestStore(t)
	m := manifest("t1", "e1", base, task.StatusPending)
	m.Stage = "nowhere"
	if err := s.Create(context.Background(), m); !errors.Is(err, task.ErrInvalidManifest) {
		t.Fatalf("Create err = %v, want ErrInvalidManifest", err)
	}
}

func TestTaskStore_GetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Get(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, nil", got, err)
	}
	got, err = s.Get(context.Background(), "../../etc/passwd")
	if err != nil || got != nil {
		t.Fatalf("Get(unsafe) = %v, %v; want nil, nil", got, err)
	}
}

func TestTaskStore_UpdateMerges(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.Create(ctx, manifest("t1", "e1", base, task.StatusPending)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	stage := task.StagePlan
	got, err := s.Update(ctx, "t1", task.Patch{Stage: &stage})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Stage != task.StagePlan || got.Brief != "brief t1" || got.Status != task.StatusPending {
		t.Fatalf("unexpected merge result %+v", got)
	}
	if !got.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("UpdatedAt = %v, want refreshed", got.UpdatedAt)
	}
}

func TestTaskStore_UpdateMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	s, fsys := newTestStore(t)
	brief := "x"
	got, err := s.Update(ctx, "ghost", task.Patch{Brief: &brief})
	if err != nil || got != nil {
		t.Fatalf("Update(missing) = %v, %v; want nil, nil", got, err)
	}
	exists, _ := afero.Exists(fsys, filepath.Join("/data/tasks", "ghost.json"))
	if exists {
		t.Fatal("Update on a missing task created a file")
	}
}

func TestTaskStore_MutateUnchangedSkipsWrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	m := manifest("t1", "e1", base, task.StatusPending)
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Mutate(ctx, "t1", func(*task.Manifest) (bool, error) { return false, nil })
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if !got.UpdatedAt.Equal(base) {
		t.Fatalf("UpdatedAt changed without a write: %v", got.UpdatedAt)
	}
	boom := errors.New("boom")
	if _, err := s.Mutate(ctx, "t1", func(*task.Manifest) (bool, error) { return true, boom }); !errors.Is(err, boom) {
		t.Fatalf("Mutate err = %v, want boom", err)
	}
}

func TestTaskStore_MutateSerializes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.Create(ctx, manifest("t1", "e1", base, task.StatusRunning)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := s.Mutate(ctx, "t1", func(m *task.Manifest) (bool, error) {
				m.AddActivity(task.NewActivity(task.ActivityThinking, fmt.Sprintf("step %d", i), base))
				return true, nil
			})
			if err != nil {
				t.Errorf("Mutate: %v", err)
			}
		}(i)
	}
	wg.Wait()
	got, _ := s.Get(ctx, "t1")
	if len(got.Activities) != writers {
		t.Fatalf("activities = %d, want %d (lost update)", len(got.Activities), writers)
	}
}

func TestTaskStore_List(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	for i, st := range []task.Status{task.StatusCompleted, task.StatusRunning, task.StatusCompleted, task.StatusFailed} {
		m := manifest(fmt.Sprintf("t%d", i), "e1", base.Add(time.Duration(i)*time.Minute), st)
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	all, err := s.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, m := range all.Tasks {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"t3", "t2", "t1", "t0"}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	page, err := s.List(ctx, ListOptions{Limit: 1, Offset: 1, Status: task.StatusCompleted})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 2 || len(page.Tasks) != 1 || page.Tasks[0].ID != "t0" {
		t.Fatalf("unexpected page total=%d tasks=%v", page.Total, page.Tasks)
	}

	past, _ := s.List(ctx, ListOptions{Offset: 10})
	if past.Total != 4 || len(past.Tasks) != 0 {
		t.Fatalf("offset past end: total=%d len=%d", past.Total, len(past.Tasks))
	}
}

func TestTaskStore_ListSkipsCorrupt(t *testing.T) {
	ctx := context.Background()
	s, fsys := newTestStore(t)
	if err := s.Create(ctx, manifest("t1", "e1", base, task.StatusPending)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := afero.WriteFile(fsys, "/data/tasks/broken.json", []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if err := afero.WriteFile(fsys, "/data/tasks/notes.txt", []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	res, err := s.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 1 || res.Tasks[0].ID != "t1" {
		t.Fatalf("unexpected list %+v", res)
	}
}

func TestTaskStore_FindActiveForEmployee(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	for _, m := range []*task.Manifest{
		manifest("old", "e1", base, task.StatusCompleted),
		manifest("cur", "e1", base.Add(time.Minute), task.StatusRunning),
		manifest("other", "e2", base.Add(2*time.Minute), task.StatusPending),
	} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	got, err := s.FindActiveForEmployee(ctx, "e1")
	if err != nil || got == nil || got.ID != "cur" {
		t.Fatalf("FindActiveForEmployee(e1) = %v, %v", got, err)
	}
	got, err = s.FindActiveForEmployee(ctx, "e3")
	if err != nil || got != nil {
		t.Fatalf("FindActiveForEmployee(e3) = %v, %v; want nil", got, err)
	}
}

func TestTaskStore_FindBySessionKey(t *testing.T) {
	ctx := context.Background()
	s, fsys := newTestStore(t)
	m := manifest("t1", "e1", base, task.StatusPending)
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.FindBySessionKey(ctx, m.SessionKey)
	if err != nil || got == nil || got.ID != "t1" {
		t.Fatalf("FindBySessionKey = %v, %v", got, err)
	}

	// A fresh store has a cold cache and falls back to scanning.
	cold, err := NewTaskStore(fsys, "/data/tasks")
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}
	got, err = cold.FindBySessionKey(ctx, m.SessionKey)
	if err != nil || got == nil || got.ID != "t1" {
		t.Fatalf("cold FindBySessionKey = %v, %v", got, err)
	}

	if err := s.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = s.FindBySessionKey(ctx, m.SessionKey)
	if err != nil || got != nil {
		t.Fatalf("FindBySessionKey after delete = %v, %v; want nil", got, err)
	}
	if got, _ := s.FindBySessionKey(ctx, "agent:e1:workforce-unknown"); got != nil {
		t.Fatalf("unexpected match %v", got)
	}
}

func TestTaskStore_CancelledContext(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Get(ctx, "t1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Get err = %v, want context.Canceled", err)
	}
}
