package manifest

import (
	"fmt"
	"strings"
)

// Default placeholders of the bundled server manifest.
const (
	DefaultServerPlaceholder = "io.selendroid"
	DefaultTargetPlaceholder = "io.selendroid.testapp"
	DefaultIconAttribute     = `android:icon="@drawable/selenium_icon"`
)

// Substitution is a literal text replacement applied to every line.
type Substitution struct {
	From string
	To   string
}

// Substitute replaces every occurrence of from with to in each line. The
// input is not modified. Empty or nil input yields an empty, non-nil slice.
func Substitute(lines []string, from, to string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		if from == "" {
			out[i] = line
			continue
		}
		out[i] = strings.ReplaceAll(line, from, to)
	}
	return out
}

// SubstituteAll applies subs in order.
func SubstituteAll(lines []string, subs ...Substitution) []string {
	out := Substitute(lines, "", "")
	for _, s := range subs {
		out = Substitute(out, s.From, s.To)
	}
	return out
}

// Occurrences counts how often target appears across lines.
func Occurrences(lines []string, target string) int {
	if target == "" {
		return 0
	}
	n := 0
	for _, line := range lines {
		n += strings.Count(line, target)
	}
	return n
}

// Placeholders names the marker values of a server manifest template.
type Placeholders struct {
	ServerPackage string `yaml:"package"`
	TargetPackage string `yaml:"target_package"`
	Icon          string `yaml:"icon"`
}

// DefaultPlaceholders returns the markers of the bundled template.
func DefaultPlaceholders() Placeholders {
	return Placeholders{
		ServerPackage: DefaultServerPlaceholder,
		TargetPackage: DefaultTargetPlaceholder,
		Icon:          DefaultIconAttribute,
	}
}

func (p Placeholders) withDefaults() Placeholders {
	d := DefaultPlaceholders()
	if p.ServerPackage == "" {
		p.ServerPackage = d.ServerPackage
	}
	if p.TargetPackage == "" {
		p.TargetPackage = d.TargetPackage
	}
	if p.Icon == "" {
		p.Icon = d.Icon
	}
	return p
}

// Substitutions returns the three replacements that retarget a server
// manifest. The package markers are matched as complete attribute values,
// so the placeholders never overlap even though one package name is a
// prefix of the other, and the instrumentation class name is left intact.
func (p Placeholders) Substitutions(serverPackage, targetPackage string) []Substitution {
	return []Substitution{
		{From: packageAttr(p.ServerPackage), To: packageAttr(serverPackage)},
		{From: targetAttr(p.TargetPackage), To: targetAttr(targetPackage)},
		{From: p.Icon, To: ""},
	}
}

func packageAttr(pkg string) string {
	return fmt.Sprintf("package=%q", pkg)
}

func targetAttr(pkg string) string {
	return fmt.Sprintf("android:targetPackage=%q", pkg)
}
