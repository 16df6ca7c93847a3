package executor

import (
	"reflect"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	got := Render("keytool", "-dname", "CN=Android,O=Android,C=US", "-alias", "my key")
	want := `keytool -dname CN=Android,O=Android,C=US -alias 'my key'`
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestSplitTool(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantName string
		wantArgs []string
		wantErr  bool
	}{
		{"plain binary", "jarsigner", "jarsigner", []string{}, false},
		{"java jar", "java -jar /opt/tools/apksigner.jar", "java", []string{"-jar", "/opt/tools/apksigner.jar"}, false},
		{"quoted path", `"/opt/android sdk/aapt" -v`, "/opt/android sdk/aapt", []string{"-v"}, false},
		{"empty", "   ", "", nil, true},
		{"unterminated quote", `"aapt`, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args, err := SplitTool(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitTool(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if len(args) != len(tt.wantArgs) || (len(args) > 0 && !reflect.DeepEqual(args, tt.wantArgs)) {
				t.Errorf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

func TestTool(t *testing.T) {
	cmd, err := Tool("java -jar signer.jar", "sign", "app.apk")
	if err != nil {
		t.Fatalf("Tool: %v", err)
	}
	if cmd.Name != "java" {
		t.Errorf("Name = %q, want java", cmd.Name)
	}
	want := []string{"-jar", "signer.jar", "sign", "app.apk"}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("Args = %#v, want %#v", cmd.Args, want)
	}
}

func TestLineWriter(t *testing.T) {
	var lines []string
	lw := &lineWriter{onLine: func(l string) { lines = append(lines, l) }}

	lw.Write([]byte("first\r\nsec"))
	lw.Write([]byte("ond\nthi"))
	lw.flush()

	want := []string{"first", "second", "thi"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %#v, want %#v", lines, want)
	}
	if lw.String() != "first\r\nsecond\nthi" {
		t.Errorf("output = %q", lw.String())
	}
}

func TestCommandStringRedacts(t *testing.T) {
	cmd := Command{
		Name:   "jarsigner",
		Args:   []string{"-storepass", "s3cret!", "-keystore", "debug.keystore"},
		Redact: []string{"s3cret!"},
	}
	got := cmd.String()
	if got != "jarsigner -storepass '***' -keystore debug.keystore" && got != `jarsigner -storepass \*\*\* -keystore debug.keystore` {
		t.Errorf("String() = %q", got)
	}
	if strings.Contains(got, "s3cret") {
		t.Errorf("password leaked: %q", got)
	}
}
