package instrumentation

import (
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestConfigurationEquality(t *testing.T) {
	fromText, err := Parse("8080")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tests := []struct {
		name string
		a, b *Configuration
		want bool
	}{
		{"integer equals text", New(8080), fromText, true},
		{"text equals integer", fromText, New(8080), true},
		{"different ports", New(8080), New(8081), false},
		{"against nil", New(8080), nil, false},
		{"nil receiver", nil, New(8080), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr string
	}{
		{"8080", 8080, ""},
		{" 4444 ", 4444, ""},
		{"", 0, "not set"},
		{"http", 0, "not a number"},
	}
	for _, tt := range tests {
		c, err := Parse(tt.in)
		if tt.wantErr != "" {
			var ce *ConfigError
			if !errors.As(err, &ce) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse(%q) error = %v, want ConfigError with %q", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil || c.Port() != tt.want {
			t.Errorf("Parse(%q) = %v, %v", tt.in, c, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		port int
		ok   bool
	}{
		{1, true},
		{8080, true},
		{65535, true},
		{0, false},
		{-1, false},
		{65536, false},
	}
	for _, tt := range tests {
		c := New(tt.port)
		err := c.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%d) = %v", tt.port, err)
		}
		if c.Validated() != tt.ok {
			t.Errorf("Validated(%d) = %v, want %v", tt.port, c.Validated(), tt.ok)
		}
	}
}

func TestDeclarationsValidate(t *testing.T) {
	t.Run("distinct ports", func(t *testing.T) {
		d := Declarations{"app": New(8080), "other": New(8081)}
		if err := d.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if !d["app"].Validated() {
			t.Error("configuration not marked validated")
		}
	})

	t.Run("duplicate port", func(t *testing.T) {
		text, _ := Parse("8080")
		d := Declarations{"first": New(8080), "second": text}
		err := d.Validate()
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("expected *ConfigError, got %v", err)
		}
		for _, want := range []string{"first", "second", "8080"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("error %q does not name %s", err, want)
			}
		}
	})

	t.Run("invalid port names deployment", func(t *testing.T) {
		err := Declarations{"app": New(70000)}.Validate()
		if err == nil || !strings.Contains(err.Error(), "app") || !strings.Contains(err.Error(), "70000") {
			t.Errorf("Validate() = %v", err)
		}
	})

	t.Run("nil configuration", func(t *testing.T) {
		if err := (Declarations{"app": nil}).Validate(); err == nil {
			t.Error("expected error for unset port")
		}
	})
}

func TestPortValueYAML(t *testing.T) {
	var doc struct {
		A PortValue `yaml:"a"`
		B PortValue `yaml:"b"`
	}
	if err := yaml.Unmarshal([]byte("a: 8080\nb: \"8080\"\n"), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	a, err := doc.A.Configuration()
	if err != nil {
		t.Fatal(err)
	}
	b, err := doc.B.Configuration()
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Errorf("8080 and \"8080\" differ: %v vs %v", a, b)
	}

	var bad struct {
		P PortValue `yaml:"p"`
	}
	if err := yaml.Unmarshal([]byte("p: [1, 2]\n"), &bad); err == nil {
		t.Error("expected error for sequence port")
	}
}

func TestDecider(t *testing.T) {
	d := NewDecider(log.New(io.Discard, "", 0))
	cfg := New(8080)
	if err := d.Load(Declarations{"app": cfg}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		ev   Event
		want Action
	}{
		{"declared deployed", Event{Kind: Deployed, Name: "app", Archive: "app.apk"}, Perform},
		{"declared undeployed", Event{Kind: Undeployed, Name: "app", Archive: "app.apk"}, Remove},
		{"undeclared deployed", Event{Kind: Deployed, Name: "lib", Archive: "lib.apk"}, None},
		{"undeclared undeployed", Event{Kind: Undeployed, Name: "lib", Archive: "lib.apk"}, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Decide(tt.ev)
			if got.Action != tt.want {
				t.Errorf("Action = %s, want %s", got.Action, tt.want)
			}
			if got.Archive != tt.ev.Archive || got.Name != tt.ev.Name {
				t.Errorf("decision lost event data: %+v", got)
			}
			if tt.want != None && got.Config != cfg {
				t.Errorf("Config = %v, want the declared configuration", got.Config)
			}
			if tt.want == None && got.Config != nil {
				t.Errorf("undeclared deployment got config %v", got.Config)
			}
		})
	}
}

func TestDeciderLoadRejectsConflictsAndKeepsPrevious(t *testing.T) {
	d := NewDecider(log.New(io.Discard, "", 0))
	if err := d.Load(Declarations{"app": New(8080)}); err != nil {
		t.Fatal(err)
	}

	err := d.Load(Declarations{"a": New(9000), "b": New(9000)})
	if err == nil {
		t.Fatal("expected duplicate port error")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("expected wrapped *ConfigError, got %v", err)
	}
	if _, ok := d.Declared("app"); !ok {
		t.Error("previous declarations discarded after failed load")
	}
	if _, ok := d.Declared("a"); ok {
		t.Error("rejected declarations partially applied")
	}

	// Loading replaces rather than merges.
	if err := d.Load(Declarations{"other": New(1234)}); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Declared("app"); ok {
		t.Error("stale declaration survived reload")
	}
}
