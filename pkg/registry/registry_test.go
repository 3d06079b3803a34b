package registry

import (
	"strings"
	"testing"

	"github.com/ritzau/tswatch/pkg/frontend"
)

// stubFrontend derives the shape from the first line so tests control it.
type stubFrontend struct {
	calls int
}

func (s *stubFrontend) Parse(fileName string, content []byte) (*frontend.Info, error) {
	s.calls++
	first, _, _ := strings.Cut(string(content), "\n")
	return &frontend.Info{
		ContentHash: frontend.ContentHash(content),
		Shape:       first,
		IsGlobal:    !strings.Contains(string(content), "export"),
	}, nil
}

func TestUpsertVersions(t *testing.T) {
	fe := &stubFrontend{}
	r := New(fe, true)

	a, err := r.Upsert("/a/f.ts", []byte("export a\nbody"))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if a.Version != 1 || a.IsGlobal {
		t.Errorf("unexpected entry %+v", a)
	}

	same, _ := r.Upsert("/a/f.ts", []byte("export a\nbody"))
	if same != a || fe.calls != 1 {
		t.Errorf("identical content should be a no-op (calls=%d)", fe.calls)
	}

	b, _ := r.Upsert("/a/f.ts", []byte("export a\nother body"))
	if b.Version != 2 || b == a {
		t.Errorf("expected a new entry with version 2, got %+v", b)
	}
	if a.Version != 1 || string(a.Content) != "export a\nbody" {
		t.Error("old entry must not be mutated")
	}

	r.Remove("/a/f.ts")
	c, _ := r.Upsert("/a/f.ts", []byte("export a\nbody"))
	if c.Version != 3 {
		t.Errorf("versions must keep increasing across removal, got %d", c.Version)
	}
}

func TestCaseInsensitiveKeys(t *testing.T) {
	r := New(&stubFrontend{}, false)
	if _, err := r.Upsert("/A/B/App.ts", []byte("let x = 1")); err != nil {
		t.Fatal(err)
	}
	sf, ok := r.Get("/a/b/app.ts")
	if !ok {
		t.Fatal("lookup must ignore case")
	}
	if sf.FileName != "/A/B/App.ts" || sf.Path != "/a/b/app.ts" {
		t.Errorf("unexpected names %q %q", sf.FileName, sf.Path)
	}
	if !r.Remove("/a/B/APP.ts") || r.Len() != 0 {
		t.Error("remove must ignore case")
	}
}

func TestDiffSnapshots(t *testing.T) {
	r := New(&stubFrontend{}, true)
	r.Upsert("/keep.ts", []byte("export k"))
	r.Upsert("/body.ts", []byte("export b\n1"))
	r.Upsert("/shape.ts", []byte("export s1"))
	r.Upsert("/gone.ts", []byte("export g"))
	before := r.Snapshot()

	r.Upsert("/body.ts", []byte("export b\n2"))
	r.Upsert("/shape.ts", []byte("export s2"))
	r.Remove("/gone.ts")
	r.Upsert("/new.ts", []byte("export n"))
	after := r.Snapshot()

	d := DiffSnapshots(before, after)
	if len(d.Added) != 1 || d.Added[0] != "/new.ts" {
		t.Errorf("Added = %v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0] != "/gone.ts" {
		t.Errorf("Removed = %v", d.Removed)
	}
	if len(d.Changed) != 2 {
		t.Fatalf("Changed = %v", d.Changed)
	}
	if d.Changed[0].New.Path != "/body.ts" || d.Changed[0].ShapeChanged() {
		t.Errorf("body-only change reported as shape change: %+v", d.Changed[0])
	}
	if d.Changed[1].New.Path != "/shape.ts" || !d.Changed[1].ShapeChanged() {
		t.Errorf("shape change not reported: %+v", d.Changed[1])
	}
	if !DiffSnapshots(after, after).Empty() {
		t.Error("diff of a snapshot with itself must be empty")
	}
}
