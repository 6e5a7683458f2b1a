package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"testing"
)

func readEvents(t *testing.T, path string) []*Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		e := &Event{}
		if err := json.Unmarshal(scanner.Bytes(), e); err != nil {
			t.Fatalf("bad JSONL line: %v", err)
		}
		events = append(events, e)
	}
	return events
}

func TestEventLoggerWritesJSONL(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatal(err)
	}

	logger.LogIngest("abc123", "/in/dune.epub", "accepted", 7, 0.92)
	logger.LogDedup("abc123", "/in/dune copy.epub")
	logger.LogIdentify(7, "openlibrary", 0.92, true)
	logger.LogOrganize("/in/dune.epub", "/lib/herbert/dune.epub", "done", "")
	logger.LogError(EventIngest, "/in/broken.pdf", errors.New("parser panic"))
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, logger.Path())
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[0].Event != EventIngest || events[0].SHA256 != "abc123" || events[0].EditionID != 7 {
		t.Errorf("ingest event wrong: %+v", events[0])
	}
	if events[1].Event != EventDedup || events[1].Level != LevelDebug {
		t.Errorf("dedup event wrong: %+v", events[1])
	}
	if events[2].Status != "accepted" || events[2].Provider != "openlibrary" {
		t.Errorf("identify event wrong: %+v", events[2])
	}
	if events[4].Level != LevelError || events[4].Error == "" {
		t.Errorf("error event wrong: %+v", events[4])
	}
	for _, e := range events {
		if e.Timestamp.IsZero() {
			t.Error("timestamp not stamped")
		}
	}
}

func TestEventLoggerFiltersByLevel(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelInfo)
	if err != nil {
		t.Fatal(err)
	}

	logger.LogDedup("abc", "/a") // debug, filtered
	logger.LogIngest("abc", "/a", "accepted", 1, 0.9)
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 1 || events[0].Event != EventIngest {
		t.Fatalf("expected only the info event, got %d", len(events))
	}
}

func TestNullLoggerIsSafe(t *testing.T) {
	logger := NullLogger()
	if err := logger.LogIngest("abc", "/a", "accepted", 1, 0.9); err != nil {
		t.Fatal(err)
	}
	if logger.Path() != "" {
		t.Error("null logger should have no path")
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	var nilLogger *EventLogger
	if err := nilLogger.Log(&Event{Level: LevelInfo, Event: EventIngest}); err != nil {
		t.Fatal(err)
	}
}
