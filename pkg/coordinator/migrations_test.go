package coordinator

import (
	"encoding/json"
	"testing"
)

// TestMigrateV1ToV2RewritesLegacyListeners round-trips a machine_version-1
// snapshot (listeners stored as stream_id -> {pid -> leader_pid}) through
// DecodeSnapshot and RunMigration, asserting the legacy map is genuinely
// rewritten into the v2 (pid,kind) -> payload shape, per spec §9.
func TestMigrateV1ToV2RewritesLegacyListeners(t *testing.T) {
	observer := Pid{Node: "observer", Token: 7}
	leader := Pid{Node: "n1", Token: 1}

	raw := `{
		"machine_version": 1,
		"streams": [{
			"id": "s1",
			"epoch": 3,
			"nodes": ["n1", "n2"],
			"members": [],
			"queue_ref": "q1",
			"conf": {},
			"target": "running",
			"reply_to": {},
			"listeners": {
				"observer/7": "n1/1"
			}
		}],
		"monitors": []
	}`

	s, err := DecodeSnapshot([]byte(raw))
	if err != nil {
		t.Fatalf("decode v1 snapshot: %v", err)
	}
	if s.MachineVersion != 1 {
		t.Fatalf("expected machine version 1, got %d", s.MachineVersion)
	}

	stream, ok := s.Streams["s1"]
	if !ok {
		t.Fatalf("expected stream s1 to be decoded")
	}
	if len(stream.Listeners) != 0 {
		t.Fatalf("expected no v2-shaped listeners before migration, got %+v", stream.Listeners)
	}
	if leaderPid, ok := stream.LegacyListeners[observer]; !ok || leaderPid != leader {
		t.Fatalf("expected legacy listener %v -> %v to survive decode, got %+v", observer, leader, stream.LegacyListeners)
	}
	if stream.CatalogState.Kind != "" {
		t.Fatalf("expected a v1 stream to decode with zero-value catalog state, got %+v", stream.CatalogState)
	}

	effects := RunMigration(1, s)

	if len(stream.LegacyListeners) != 0 {
		t.Fatalf("expected LegacyListeners cleared after migration, got %+v", stream.LegacyListeners)
	}
	payload, ok := stream.Listeners[ListenerKey{Pid: observer, Kind: ListenerLeader}]
	if !ok {
		t.Fatalf("expected the legacy pid to migrate into a ListenerLeader entry, got %+v", stream.Listeners)
	}
	if payload.LastPid != leader {
		t.Fatalf("expected the migrated payload to carry the old leader_pid, got %+v", payload)
	}
	if stream.CatalogState.Kind != CatalogUpdated || stream.CatalogState.Epoch != stream.Epoch {
		t.Fatalf("expected migration to backfill catalog state at the stream's epoch, got %+v", stream.CatalogState)
	}

	var sawWatch bool
	for _, e := range effects {
		if e.WatchProcess && e.Pid == observer {
			sawWatch = true
		}
	}
	if !sawWatch {
		t.Fatalf("expected a watch_process effect for the migrated listener pid, got %+v", effects)
	}
	if _, tracked := s.Monitors[observer]; !tracked {
		t.Fatalf("expected the migrated listener pid to be tracked in Monitors")
	}
}

// TestDecodeSnapshotV2PassesThroughUnchanged confirms a machine_version-2
// (or later) snapshot never routes through the legacy decode path.
func TestDecodeSnapshotV2PassesThroughUnchanged(t *testing.T) {
	d := NewDispatcher(NewState(), &fakeAux{}, nil, nil)
	_, _ = apply(t, d, 1, CmdNewStream, NewStreamPayload{
		StreamId: "s1", Leader: "n1", Nodes: []Node{"n1", "n2"}, QueueRef: "q1",
	})

	snap, err := EncodeSnapshot(d.State())
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	enc, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	restored, err := DecodeSnapshot(enc)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if restored.Streams["s1"].LegacyListeners != nil {
		t.Fatalf("expected no LegacyListeners on a v2+ decode, got %+v", restored.Streams["s1"].LegacyListeners)
	}
	if restored.Streams["s1"].CatalogState.Kind != CatalogUpdated {
		t.Fatalf("expected the v2 CatalogState to survive the round trip, got %+v", restored.Streams["s1"].CatalogState)
	}
}
