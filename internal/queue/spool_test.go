package queue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestClaimMovesFileBetweenStages(t *testing.T) {
	s := newTestSpool(t)
	env := &Envelope{Channel: "whatsapp", SenderID: "u1", Message: "hello", MessageID: "m1"}
	if err := s.EnqueueIncoming("whatsapp_m1.json", env); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := s.Claim("whatsapp_m1.json"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Incoming(), "whatsapp_m1.json")); !os.IsNotExist(err) {
		t.Error("file still present in incoming after claim")
	}

	got, err := s.ReadProcessing("whatsapp_m1.json")
	if err != nil {
		t.Fatalf("read processing: %v", err)
	}
	if got.Message != "hello" || got.SenderID != "u1" {
		t.Errorf("envelope = %+v, want original fields", got)
	}

	if err := s.Finish("whatsapp_m1.json"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Processing(), "whatsapp_m1.json")); !os.IsNotExist(err) {
		t.Error("file still present in processing after finish")
	}
}

func TestClaimSameFileTwiceFails(t *testing.T) {
	s := newTestSpool(t)
	s.EnqueueIncoming("a.json", &Envelope{Channel: "c", Message: "x"})

	if err := s.Claim("a.json"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.Claim("a.json"); err == nil {
		t.Error("second claim succeeded, want error")
	}
}

func TestRecoverReturnsOrphansToIncoming(t *testing.T) {
	s := newTestSpool(t)
	s.EnqueueIncoming("a.json", &Envelope{Channel: "c", Message: "1"})
	s.EnqueueIncoming("b.json", &Envelope{Channel: "c", Message: "2"})
	s.Claim("a.json")

	if err := s.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}
	names, err := s.ListIncoming()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("incoming after recover = %v, want both files", names)
	}
}

func TestRequeueAfterFailure(t *testing.T) {
	s := newTestSpool(t)
	s.EnqueueIncoming("a.json", &Envelope{Channel: "c", Message: "x"})
	s.Claim("a.json")

	if err := s.Requeue("a.json"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	names, _ := s.ListIncoming()
	if len(names) != 1 || names[0] != "a.json" {
		t.Errorf("incoming = %v, want [a.json]", names)
	}
}

func TestListIncomingOrdersByModTime(t *testing.T) {
	s := newTestSpool(t)
	s.EnqueueIncoming("newer.json", &Envelope{Channel: "c"})
	s.EnqueueIncoming("older.json", &Envelope{Channel: "c"})

	// Force a deterministic mtime order regardless of filesystem resolution.
	now := time.Now()
	os.Chtimes(filepath.Join(s.Incoming(), "older.json"), now.Add(-time.Minute), now.Add(-time.Minute))
	os.Chtimes(filepath.Join(s.Incoming(), "newer.json"), now, now)

	names, err := s.ListIncoming()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "older.json" {
		t.Errorf("order = %v, want oldest first", names)
	}
}

func TestOutgoingName(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	tests := []struct {
		name    string
		channel string
		msgID   string
		want    string
	}{
		{"heartbeat keeps bare id", HeartbeatChannel, "hb1", "hb1.json"},
		{"channel name embeds timestamp", "whatsapp", "m42", "whatsapp_m42_1700000000000.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutgoingName(tt.channel, tt.msgID, now); got != tt.want {
				t.Errorf("OutgoingName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInternalNameShape(t *testing.T) {
	name := InternalName("conv1", "researcher", time.Now())
	if !strings.HasPrefix(name, "internal_conv1_researcher_") || !strings.HasSuffix(name, ".json") {
		t.Errorf("InternalName = %q, want internal_conv1_researcher_<ts>_<nnnn>.json", name)
	}
}

func TestIsInternal(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want bool
	}{
		{"both set", Envelope{ConversationID: "c", FromAgent: "a"}, true},
		{"conversation only", Envelope{ConversationID: "c"}, false},
		{"neither", Envelope{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.env.IsInternal(); got != tt.want {
				t.Errorf("IsInternal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWriteOutgoingProducesReadableEnvelope(t *testing.T) {
	s := newTestSpool(t)
	name, err := s.WriteOutgoing(&Envelope{Channel: "whatsapp", MessageID: "m1", Message: "done"})
	if err != nil {
		t.Fatalf("write outgoing: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(s.Outgoing(), name))
	if err != nil {
		t.Fatalf("read outgoing: %v", err)
	}
	if !strings.Contains(string(data), `"done"`) {
		t.Errorf("outgoing file missing message body: %s", data)
	}
}
