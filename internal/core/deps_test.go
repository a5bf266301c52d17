package core

import "testing"

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		input string
		want  Requirement
	}{
		{"six", Requirement{Name: "six", Specifier: "*"}},
		{"requests>=2.0", Requirement{Name: "requests", Specifier: ">=2.0"}},
		{"Requests[socks] (>=2.0,<3)", Requirement{Name: "Requests", Specifier: ">=2.0,<3"}},
		{"pywin32; sys_platform == 'win32'", Requirement{Name: "pywin32", Specifier: "*", Marker: "sys_platform == 'win32'"}},
		{"zope.interface==5.4.0", Requirement{Name: "zope.interface", Specifier: "==5.4.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseRequirement(tt.input); got != tt.want {
				t.Errorf("ParseRequirement(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDependencyName(t *testing.T) {
	if got := DependencyName("Django>=4"); got != "django" {
		t.Errorf("DependencyName = %q, want django", got)
	}
	if got := DependencyName("   "); got != "" {
		t.Errorf("DependencyName(blank) = %q, want empty", got)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "2.0", -1},
		{"1.10", "1.9", 1},
		{"2.0rc1", "2.0", -1},
		{"1.0", "1.0", 0},
		{"banana", "1.0", -1},
		{"1.0", "banana", 1},
		{"apple", "banana", -1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSortVersions(t *testing.T) {
	versions := []string{"1.10", "dev", "1.2", "1.9.1", "1.2b1"}
	SortVersions(versions)
	want := []string{"dev", "1.2b1", "1.2", "1.9.1", "1.10"}
	for i := range want {
		if versions[i] != want[i] {
			t.Fatalf("SortVersions = %v, want %v", versions, want)
		}
	}
}
