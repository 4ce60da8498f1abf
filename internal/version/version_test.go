package version

import "testing"

func TestString(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.0"
	if got := String(); got != "v1.2.0 (commit unknown, built unknown)" {
		t.Errorf("String() = %q", got)
	}
}
