package events

import "testing"

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		Create:  "create",
		Modify:  "modify",
		Rename:  "rename",
		Delete:  "delete",
		Kind(99): "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
