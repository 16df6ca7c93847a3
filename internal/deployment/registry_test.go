package deployment

import (
	"errors"
	"fmt"
	"testing"

	"droidium/internal/instrumentation"
)

func TestRegistrySizeAndOrder(t *testing.T) {
	for _, n := range []int{1, 2, 5, 20} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			r := NewRegistry[*Deployment]()
			for i := 0; i < n; i++ {
				if err := r.Add(&Deployment{Name: fmt.Sprint(i), SourceArchive: fmt.Sprintf("/apks/%d.apk", i)}); err != nil {
					t.Fatalf("Add: %v", err)
				}
			}
			if r.Size() != n {
				t.Errorf("Size() = %d, want %d", r.Size(), n)
			}
			last, err := r.Last()
			if err != nil {
				t.Fatalf("Last: %v", err)
			}
			if want := fmt.Sprint(n - 1); last.Name != want {
				t.Errorf("Last().Name = %s, want %s", last.Name, want)
			}
			for i, d := range r.All() {
				if d.Name != fmt.Sprint(i) {
					t.Errorf("All()[%d] = %s", i, d.Name)
				}
			}
		})
	}
}

func TestRegistryLastEmpty(t *testing.T) {
	r := NewRegistry[*ServerDeployment]()
	if _, err := r.Last(); !errors.Is(err, ErrEmpty) {
		t.Errorf("Last() error = %v, want ErrEmpty", err)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry[*Deployment]()
	d := &Deployment{Name: "app", SourceArchive: "/apks/app.apk"}
	if err := r.Add(d); err != nil {
		t.Fatal(err)
	}
	err := r.Add(&Deployment{Name: "again", SourceArchive: "/apks/app.apk"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Add duplicate = %v, want ErrDuplicate", err)
	}
	if r.Size() != 1 {
		t.Errorf("Size() = %d after rejected add", r.Size())
	}
	got, err := r.Get("/apks/app.apk")
	if err != nil || got != d {
		t.Errorf("Get() = %v, %v", got, err)
	}
	if _, err := r.Get("/apks/other.apk"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestNewServerDeployment(t *testing.T) {
	app := &Deployment{Name: "app", SourceArchive: "/apks/app.apk", BasePackage: "com.example"}

	if _, err := NewServerDeployment(ServerDeployment{Name: "srv", Config: instrumentation.New(8080)}); !errors.Is(err, ErrNoInstrumentedDeployment) {
		t.Errorf("missing instrumented deployment: %v", err)
	}
	if _, err := NewServerDeployment(ServerDeployment{Name: "srv", Instrumented: app}); err == nil {
		t.Error("expected error for missing configuration")
	}
	if _, err := NewServerDeployment(ServerDeployment{Name: "srv", Instrumented: app, Config: instrumentation.New(0)}); err == nil {
		t.Error("expected error for invalid port")
	}

	s, err := NewServerDeployment(ServerDeployment{Name: "srv", Instrumented: app, Config: instrumentation.New(8080)})
	if err != nil {
		t.Fatalf("NewServerDeployment: %v", err)
	}
	if want := "/apks/app.apk#8080"; s.Key() != want {
		t.Errorf("Key() = %s, want %s", s.Key(), want)
	}
	if s.Port() != 8080 || !s.Config.Validated() {
		t.Errorf("config not validated: %v", s.Config)
	}

	r := NewRegistry[*ServerDeployment]()
	if err := r.Add(s); err != nil {
		t.Fatal(err)
	}
	last, _ := r.Last()
	if last.Instrumented != app {
		t.Error("server lost its instrumented deployment")
	}

	moved, err := NewServerDeployment(ServerDeployment{Name: "srv", Instrumented: app, Config: instrumentation.New(9090)})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add(moved); err != nil {
		t.Errorf("server for a second port rejected: %v", err)
	}
	if got, err := r.Get(ServerKey(app.Key(), 9090)); err != nil || got != moved {
		t.Errorf("Get(9090) = %v, %v", got, err)
	}
	if got, err := r.Get(ServerKey(app.Key(), 8080)); err != nil || got != s {
		t.Errorf("Get(8080) = %v, %v", got, err)
	}
}
