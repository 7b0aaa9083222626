package ordersync

import (
	"testing"
)

func TestDiffSnapshotsFindsDifferingFields(t *testing.T) {
	local := []byte(`{"total_amount":"26.7800","customer_name":"walk-in","table_number":"12"}`)
	remote := []byte(`{"total_amount":"31.0000","customer_name":"walk-in","table_number":"12"}`)

	diffs, err := DiffSnapshots(local, remote)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(diffs) != 1 {
		t.Fatalf("expected exactly one difference, got %d: %v", len(diffs), diffs)
	}
	d, ok := diffs["total_amount"]
	if !ok {
		t.Fatalf("total_amount missing from diff: %v", diffs)
	}
	if d.Local != "26.7800" || d.Remote != "31.0000" {
		t.Fatalf("unexpected diff values: %+v", d)
	}
}

func TestDiffSnapshotsHandlesOneSidedFields(t *testing.T) {
	local := []byte(`{"notes":"extra spicy"}`)
	remote := []byte(`{"voided_by":"manager"}`)

	diffs, err := DiffSnapshots(local, remote)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(diffs) != 2 {
		t.Fatalf("expected two differences, got %v", diffs)
	}
	if diffs["notes"].Remote != nil {
		t.Fatalf("notes should have nil remote side: %+v", diffs["notes"])
	}
	if diffs["voided_by"].Local != nil {
		t.Fatalf("voided_by should have nil local side: %+v", diffs["voided_by"])
	}
}

func TestDiffSnapshotsEqualPayloads(t *testing.T) {
	payload := []byte(`{"total_amount":"10.0000","items":[{"name":"Tea","qty":"1.0000"}]}`)

	diffs, err := DiffSnapshots(payload, payload)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(diffs) != 0 {
		t.Fatalf("identical payloads should produce an empty diff, got %v", diffs)
	}
}

func TestDiffSnapshotsEmptyRemote(t *testing.T) {
	local := []byte(`{"total_amount":"10.0000"}`)

	diffs, err := DiffSnapshots(local, nil)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(diffs) != 1 {
		t.Fatalf("expected local-only field reported, got %v", diffs)
	}
}
