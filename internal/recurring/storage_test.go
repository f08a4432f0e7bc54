package recurring

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleDefinitions() []Definition {
	created := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	reminded := created.Add(24 * time.Hour)
	return []Definition{
		{
			ID: "1741000000000", Title: "提交周报", Frequency: Weekly, DayOfWeek: 5, TimeOfDay: "09:00",
			Assignee: "joe", CreatedBy: "Boss", GroupID: -100123, CreatedAt: created,
			LastReminded: &reminded, CompletedThisWeek: true, Active: true,
		},
		{
			ID: "1741000000001", Title: "检查库存", Frequency: Daily, TimeOfDay: "18:00",
			CreatedAt: created, Active: false,
		},
	}
}

func assertSameDefinitions(t *testing.T, got, want []Definition) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d definitions, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.Title != w.Title || g.Frequency != w.Frequency ||
			g.DayOfWeek != w.DayOfWeek || g.TimeOfDay != w.TimeOfDay || g.GroupID != w.GroupID ||
			g.CompletedThisWeek != w.CompletedThisWeek || g.Active != w.Active {
			t.Errorf("definition[%d] = %+v, want %+v", i, g, w)
		}
		if !g.CreatedAt.Equal(w.CreatedAt) {
			t.Errorf("definition[%d].CreatedAt = %v, want %v", i, g.CreatedAt, w.CreatedAt)
		}
		if (g.LastReminded == nil) != (w.LastReminded == nil) {
			t.Errorf("definition[%d].LastReminded = %v, want %v", i, g.LastReminded, w.LastReminded)
		} else if g.LastReminded != nil && !g.LastReminded.Equal(*w.LastReminded) {
			t.Errorf("definition[%d].LastReminded = %v, want %v", i, g.LastReminded, w.LastReminded)
		}
	}
}

func TestFileStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "recurring-tasks.json")
	fs := NewFileStorage(path)

	t.Run("missing file is empty", func(t *testing.T) {
		defs, err := fs.Load(ctx)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(defs) != 0 {
			t.Errorf("got %d definitions, want 0", len(defs))
		}
	})

	t.Run("round trip", func(t *testing.T) {
		want := sampleDefinitions()
		if err := fs.Save(ctx, want); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		got, err := fs.Load(ctx)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		assertSameDefinitions(t, got, want)
	})

	t.Run("no temp files left", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(path))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("directory has %d entries, want only the data file", len(entries))
		}
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := fs.Load(ctx); err == nil {
			t.Error("expected error for corrupt file")
		}
	})
}

func TestFileStorageReadsLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recurring-tasks.json")
	legacy := `[
  {
    "id": "1732590000000",
    "title": "提交周报",
    "description": "每周五提交周报",
    "frequency": "weekly",
    "dayOfWeek": 5,
    "timeOfDay": "09:00",
    "assignee": "郭总",
    "createdBy": "Joe",
    "groupId": -4976924235,
    "createdAt": "2024-11-26T03:00:00.000Z",
    "lastReminded": null,
    "completedThisWeek": false,
    "active": true
  }
]`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	defs, err := NewFileStorage(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("got %d definitions, want 1", len(defs))
	}
	d := defs[0]
	if d.ID != "1732590000000" || d.DayOfWeek != 5 || d.GroupID != -4976924235 || d.LastReminded != nil {
		t.Errorf("unexpected definition: %+v", d)
	}
}

func TestSQLiteStorage(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "recurring.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	defs, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(defs) != 0 {
		t.Fatalf("fresh database has %d definitions", len(defs))
	}

	want := sampleDefinitions()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSameDefinitions(t, got, want)

	// Save replaces the whole set.
	if err := store.Save(ctx, want[:1]); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSameDefinitions(t, got, want[:1])
}
