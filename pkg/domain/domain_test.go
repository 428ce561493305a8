package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseOrigin(t *testing.T) {
	for _, o := range []Origin{OriginPersisted, OriginPrebuilt, OriginSchema, OriginLegacy} {
		got, err := ParseOrigin(string(o))
		if err != nil || got != o {
			t.Fatalf("ParseOrigin(%q) = %q, %v", o, got, err)
		}
	}
	if _, err := ParseOrigin("opfs"); err == nil {
		t.Fatalf("unknown origin should fail")
	}
	if Origin("").Valid() {
		t.Fatalf("empty origin should be invalid")
	}
}

func TestStatusStates(t *testing.T) {
	loading := LoadingStatus()
	if !loading.Loading() || loading.Ready() || loading.Failed() || loading.String() != "loading" {
		t.Fatalf("loading status = %+v", loading)
	}
	ready := ReadyStatus(OriginPrebuilt)
	if ready.Loading() || !ready.Ready() || ready.Failed() || ready.String() != "ready(prebuilt)" {
		t.Fatalf("ready status = %+v", ready)
	}
	failed := ErrorStatus("boom")
	if failed.Loading() || failed.Ready() || !failed.Failed() || failed.String() != "error(boom)" {
		t.Fatalf("error status = %+v", failed)
	}
}

func TestStatusJSON(t *testing.T) {
	raw, err := json.Marshal(ReadyStatus(OriginPersisted))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"initialized":true,"source":"indexeddb","error":null}` {
		t.Fatalf("ready json = %s", raw)
	}
	raw, _ = json.Marshal(LoadingStatus())
	if string(raw) != `{"initialized":false,"source":null,"error":null}` {
		t.Fatalf("loading json = %s", raw)
	}
}

func TestReadyStatusCopiesOrigin(t *testing.T) {
	o := OriginSchema
	st := ReadyStatus(o)
	o = OriginLegacy
	if *st.Source != OriginSchema {
		t.Fatalf("status source aliased caller variable: %s", *st.Source)
	}
}

func TestEntityJSONFieldNames(t *testing.T) {
	run := ProtocolRun{
		AccessionID:         "run-1",
		ProtocolAccessionID: StringPtr("proto-1"),
		Status:              RunStatusQueued,
		CreatedAt:           time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	raw, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"accession_id":"run-1"`, `"protocol_accession_id":"proto-1"`, `"status":"QUEUED"`, `"created_at":"2025-01-02T03:04:05Z"`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("run json %s missing %s", raw, want)
		}
	}
	if strings.Contains(string(raw), `"name"`) {
		t.Fatalf("nil name should be omitted: %s", raw)
	}

	raw, _ = json.Marshal(Protocol{AccessionID: "p", Name: "Transfer"})
	if !strings.Contains(string(raw), `"is_top_level":false`) {
		t.Fatalf("protocol json = %s", raw)
	}
}
