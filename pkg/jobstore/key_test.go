package jobstore

import "testing"

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "uuid run",
			key:  Key{RunID: "6f1c2d9e-1111-4a5b-9c3d-2e7f8a9b0c1d", JobID: "job-1"},
			want: "export:run:6f1c2d9e-1111-4a5b-9c3d-2e7f8a9b0c1d:job:job-1",
		},
		{
			name: "short ids",
			key:  Key{RunID: "r", JobID: "j"},
			want: "export:run:r:job:j",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIndexKey(t *testing.T) {
	if got := indexKey("run-1"); got != "export:run:run-1:jobs" {
		t.Errorf("indexKey() = %q", got)
	}
}

func TestRecord_Key(t *testing.T) {
	rec := &Record{RunID: "r1", JobID: "j1"}
	if rec.Key() != (Key{RunID: "r1", JobID: "j1"}) {
		t.Errorf("Key() = %+v", rec.Key())
	}
	if rec.Failed() {
		t.Error("record without error should not be failed")
	}
	rec.Error = "job j1 FAILED: unable to retrieve results"
	if !rec.Failed() {
		t.Error("record with error should be failed")
	}
}
