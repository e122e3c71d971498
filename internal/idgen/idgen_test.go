package idgen

import "testing"

func TestNewFileID(t *testing.T) {
	id := NewFileID()
	if !FilePattern.MatchString(id) {
		t.Errorf("file id %q does not match pattern", id)
	}
}

func TestNewJobID(t *testing.T) {
	id := NewJobID()
	if !JobPattern.MatchString(id) {
		t.Errorf("job id %q does not match pattern", id)
	}
}

func TestNewFileID_Unique(t *testing.T) {
	a, b := NewFileID(), NewFileID()
	if a == b {
		t.Error("expected distinct file ids across calls")
	}
}

func TestSHA256Hex(t *testing.T) {
	got := SHA256HexString("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if !HexPattern.MatchString(got) {
		t.Errorf("digest %q does not match hex pattern", got)
	}
	if got != want {
		t.Errorf("SHA256HexString(hello) = %s, want %s", got, want)
	}
}
