package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type fakeDriver struct{ id string }

func (d *fakeDriver) SessionID() string { return d.id }

func TestMapperResolution(t *testing.T) {
	first := &fakeDriver{id: "1"}
	second := &fakeDriver{id: "2"}

	m := NewMapper()
	m.Put(first, "foo.bar.Baz", "foo.bar.Hello", "foo.bar.Hi")
	m.Put(second, "abc.def.Baz", "abc.def.Bla", "abc.def.Hi")

	tests := []struct {
		query   string
		want    Driver
		wantErr error
	}{
		{"foo.bar.Baz", first, nil},
		{"foo.bar.Hello", first, nil},
		{"Hello", first, nil},
		{"Bla", second, nil},
		{"def.Bla", second, nil},
		{"abc.def.Hi", second, nil},
		{"Baz", nil, ErrAmbiguous},
		{"Hi", nil, ErrAmbiguous},
		{"SomeActivity", nil, ErrNotFound},
		{"az", nil, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := m.Instance(tt.query)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Instance(%q) error = %v, want %v", tt.query, err, tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.query) {
					t.Errorf("error does not name the query: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Instance(%q): %v", tt.query, err)
			}
			if got != tt.want {
				t.Errorf("Instance(%q) = %v, want %v", tt.query, got.SessionID(), tt.want.SessionID())
			}
		})
	}

	// Both fully qualified queries for the first driver yield the same instance.
	a, _ := m.Instance("foo.bar.Baz")
	b, _ := m.Instance("foo.bar.Hello")
	if a != b {
		t.Error("activities of one driver resolved to different instances")
	}
}

func TestMapperAmbiguityListsCandidates(t *testing.T) {
	m := NewMapper()
	m.Put(&fakeDriver{id: "1"}, "foo.bar.Baz")
	m.Put(&fakeDriver{id: "2"}, "abc.def.Baz")
	_, err := m.Instance("Baz")
	if err == nil || !strings.Contains(err.Error(), "abc.def.Baz, foo.bar.Baz") {
		t.Errorf("error = %v", err)
	}
}

func TestMapperComponents(t *testing.T) {
	d := &fakeDriver{id: "1"}
	m := NewMapper()
	m.Put(d, Component("com.app", "com.app.Main"))

	for _, q := range []string{"com.app/com.app.Main", "com.app.Main", "Main", "app.Main"} {
		name, got, err := m.Resolve(q)
		if err != nil || got != d || name != "com.app/com.app.Main" {
			t.Errorf("Resolve(%q) = %q, %v, %v", q, name, got, err)
		}
	}
}

func TestRemoveActivities(t *testing.T) {
	first := &fakeDriver{id: "1"}
	second := &fakeDriver{id: "2"}
	m := NewMapper()
	m.Put(first, "a.A", "a.B")
	m.Put(second, "b.C")

	if n := m.RemoveActivities(&fakeDriver{id: "1"}); n != 0 {
		t.Errorf("removed %d for an equal but distinct driver", n)
	}
	if n := m.RemoveActivities(first); n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
	if n := m.RemoveActivities(first); n != 0 {
		t.Errorf("second removal removed %d", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
	if _, err := m.Instance("A"); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed activity still resolves: %v", err)
	}
	if got := m.Activities(second); len(got) != 1 || got[0] != "b.C" {
		t.Errorf("Activities(second) = %v", got)
	}
}

func TestMapperPutTakesOver(t *testing.T) {
	first := &fakeDriver{id: "1"}
	second := &fakeDriver{id: "2"}
	m := NewMapper()
	m.Put(first, "a.A")
	m.Put(second, "a.A")
	if got, _ := m.Instance("a.A"); got != second {
		t.Error("Put did not take over the activity")
	}
	if len(m.Activities(first)) != 0 {
		t.Error("first driver still owns the activity")
	}
}

func TestMapperConcurrentAccess(t *testing.T) {
	m := NewMapper()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := &fakeDriver{id: fmt.Sprint(i)}
			name := fmt.Sprintf("pkg%d.Activity%d", i, i)
			m.Put(d, name)
			if got, err := m.Instance(name); err != nil || got != d {
				t.Errorf("Instance(%s) = %v, %v", name, got, err)
			}
			m.Activities(d)
			m.RemoveActivities(d)
		}(i)
	}
	wg.Wait()
	if m.Len() != 0 {
		t.Errorf("Len() = %d after all drivers detached", m.Len())
	}
}

type fakeStarter struct {
	started []string
	killed  []string
	err     error
}

func (s *fakeStarter) StartActivity(_ context.Context, component string) error {
	s.started = append(s.started, component)
	return s.err
}

func (s *fakeStarter) KillPackage(_ context.Context, pkg string) error {
	s.killed = append(s.killed, pkg)
	return s.err
}

func TestManager(t *testing.T) {
	d := &fakeDriver{id: "1"}
	m := NewMapper()
	m.Put(d, Component("com.app", "com.app.Main"), "bare.Activity")
	s := &fakeStarter{}
	mgr := NewManager(m, s)
	ctx := context.Background()

	got, err := mgr.Start(ctx, "Main")
	if err != nil || got != d {
		t.Fatalf("Start(Main) = %v, %v", got, err)
	}
	if err := mgr.Stop(ctx, "com.app.Main"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(s.started) != 1 || s.started[0] != "com.app/com.app.Main" {
		t.Errorf("started = %v", s.started)
	}
	if len(s.killed) != 1 || s.killed[0] != "com.app" {
		t.Errorf("killed = %v", s.killed)
	}

	if _, err := mgr.Start(ctx, "Nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Start(Nope) = %v", err)
	}
	if _, err := mgr.Start(ctx, "Activity"); err == nil {
		t.Error("Start of an activity without package succeeded")
	}

	s.err = errors.New("device gone")
	if _, err := mgr.Start(ctx, "Main"); err == nil {
		t.Error("starter error swallowed")
	}
}

func TestSplitComponent(t *testing.T) {
	tests := []struct {
		in       string
		pkg, act string
		ok       bool
	}{
		{"com.app/.Main", "com.app", ".Main", true},
		{"com.app.Main", "", "", false},
		{"/x", "", "", false},
		{"x/", "", "", false},
	}
	for _, tt := range tests {
		pkg, act, ok := SplitComponent(tt.in)
		if pkg != tt.pkg || act != tt.act || ok != tt.ok {
			t.Errorf("SplitComponent(%q) = %q, %q, %v", tt.in, pkg, act, ok)
		}
	}
}
