package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/uplift-export-client/pkg/client"
	"github.com/Sternrassler/uplift-export-client/pkg/partition"
	"github.com/xuri/excelize/v2"
)

func TestXLSXSink_CreateThenAppend(t *testing.T) {
	dir := t.TempDir()
	s := NewXLSXSink(dir)
	ctx := context.Background()
	key := partition.Key{AthleteID: "a-1", SessionID: "s-1"}

	err := s.Append(ctx, partition.Batch{
		Key:     key,
		Columns: []string{"athleteid", "sessionid", "frame"},
		Rows: []client.Row{
			{"athleteid": "a-1", "sessionid": "s-1", "frame": 1},
			{"athleteid": "a-1", "sessionid": "s-1", "frame": 2},
		},
	})
	if err != nil {
		t.Fatalf("first Append() error = %v", err)
	}
	err = s.Append(ctx, partition.Batch{
		Key:  key,
		Rows: []client.Row{{"frame": 3, "athleteid": "a-1", "sessionid": "s-1"}},
	})
	if err != nil {
		t.Fatalf("second Append() error = %v", err)
	}

	path := filepath.Join(dir, "a-1", "session_s-1.xlsx")
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %v, want header + 3", rows)
	}
	if rows[0][2] != "frame" || rows[3][2] != "3" {
		t.Errorf("rows = %v", rows)
	}

	if _, err := os.Stat(path + ".tmp.xlsx"); !os.IsNotExist(err) {
		t.Error("temporary workbook should not remain after save")
	}
}
