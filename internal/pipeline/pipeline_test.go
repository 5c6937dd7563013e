package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/pipeline"
)

func TestProcess(t *testing.T) {
	fn := func(_ context.Context, src string) (pipeline.Row, error) {
		switch src {
		case "ok.eml":
			return pipeline.NewRow(src, "billing@utility.test", acquire.Result{
				MessageID: "m-1",
				Success:   true,
				Lane:      acquire.LaneAttachments,
				Documents: []acquire.Document{{Name: "bill.pdf"}},
			}, []string{"inbound/m-1/bill.pdf"}), nil
		case "failed.eml":
			return pipeline.NewRow(src, "", acquire.Result{
				MessageID: "m-2",
				Lane:      acquire.LaneUnknown,
				Error:     "no attachments or links found",
			}, nil), nil
		}
		return pipeline.Row{}, errors.New("read " + src + ": forced error")
	}

	rows, err := pipeline.Process(context.Background(), []string{"ok.eml", "failed.eml", "broken.eml"}, fn, pipeline.Options{Workers: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Status != "ok" || rows[0].Documents != 1 || rows[0].Names != `["bill.pdf"]` || rows[0].Keys != `["inbound/m-1/bill.pdf"]` {
		t.Fatalf("unexpected row[0]: %#v", rows[0])
	}
	if rows[1].Status != "failed" || rows[1].Error != "no attachments or links found" || rows[1].Names != "" {
		t.Fatalf("unexpected row[1]: %#v", rows[1])
	}
	if rows[2].Source != "broken.eml" || rows[2].Status != "error" || !strings.Contains(rows[2].Error, "forced error") {
		t.Fatalf("unexpected row[2]: %#v", rows[2])
	}

	counts := pipeline.Counts(rows)
	if counts["ok"] != 1 || counts["failed"] != 1 || counts["error"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestProcessFailFast(t *testing.T) {
	fn := func(context.Context, string) (pipeline.Row, error) {
		return pipeline.Row{}, errors.New("boom")
	}
	_, err := pipeline.Process(context.Background(), []string{"a.eml"}, fn, pipeline.Options{Workers: 1, FailFast: true})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestNewRowRedacts(t *testing.T) {
	row := pipeline.NewRow("a.eml", "", acquire.Result{
		RequiresEscalation: true,
		EscalationReason:   "lane3 navigate failed: GET https://p.test/x?pin=4821",
		Error:              "lane3 navigate failed: GET https://p.test/x?pin=4821",
	}, nil)
	if strings.Contains(row.Error, "4821") || strings.Contains(row.EscalationReason, "4821") {
		t.Fatalf("pin leaked: %#v", row)
	}
	if !row.RequiresEscalation {
		t.Fatalf("expected requires_escalation")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := pipeline.WriteCSV(&buf, []pipeline.Row{{
		Source:    "a.eml",
		MessageID: "m-1",
		Status:    "ok",
		Lane:      "lane2_direct",
		Documents: 1,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "source,message_id,sender,status,lane,documents,names,keys,requires_escalation,escalation_reason,error\n") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "\na.eml,m-1,,ok,lane2_direct,1,,,false,,\n") {
		t.Fatalf("unexpected body: %q", out)
	}
}
