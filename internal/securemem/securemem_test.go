package securemem

import "testing"

func TestStringEqual(t *testing.T) {
	s := NewString("s3cret-token")
	defer s.Destroy()

	if !s.Equal("s3cret-token") {
		t.Error("Equal should match the stored secret")
	}
	for _, other := range []string{"", "s3cret", "s3cret-token-", "S3CRET-TOKEN"} {
		if s.Equal(other) {
			t.Errorf("Equal(%q) should be false", other)
		}
	}
	if s.IsEmpty() || s.Len() != len("s3cret-token") {
		t.Errorf("unexpected IsEmpty=%v Len=%d", s.IsEmpty(), s.Len())
	}
}

func TestStringDestroy(t *testing.T) {
	s := NewString("token")
	s.Destroy()
	s.Destroy()

	if !s.IsEmpty() {
		t.Error("destroyed string should be empty")
	}
	if s.Equal("token") || s.Equal("") {
		t.Error("destroyed string must not equal anything")
	}
}

func TestNilString(t *testing.T) {
	var s *String
	if !s.IsEmpty() || s.Len() != 0 {
		t.Error("nil string should be empty")
	}
	if s.Equal("") {
		t.Error("nil string must not equal anything")
	}
	s.Destroy()
}
