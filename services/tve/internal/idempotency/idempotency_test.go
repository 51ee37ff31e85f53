package idempotency

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	records map[string]savedRecord
	getErr  error
	saveN   int
}

type savedRecord struct {
	status int
	body   map[string]any
}

func recordKey(workspaceID, actorID, key, endpoint string) string {
	return workspaceID + "|" + actorID + "|" + key + "|" + endpoint
}

func (f *fakeStore) GetIdempotencyRecord(ctx context.Context, workspaceID, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error) {
	if f.getErr != nil {
		return 0, nil, false, f.getErr
	}
	rec, ok := f.records[recordKey(workspaceID, actorID, idempotencyKey, endpoint)]
	if !ok {
		return 0, nil, false, nil
	}
	return rec.status, rec.body, true, nil
}

func (f *fakeStore) SaveIdempotencyRecord(ctx context.Context, workspaceID, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error {
	if f.records == nil {
		f.records = map[string]savedRecord{}
	}
	k := recordKey(workspaceID, actorID, idempotencyKey, endpoint)
	if _, exists := f.records[k]; !exists {
		f.records[k] = savedRecord{status: responseStatus, body: responseBody}
	}
	f.saveN++
	return nil
}

func TestReplayWithoutKeyIsNoop(t *testing.T) {
	st := &fakeStore{}
	_, _, replayed, err := Replay(context.Background(), st, Scope{
		WorkspaceID: "ws_1",
		ActorID:     "act_1",
	}, "POST /tve/templates/tpl_1/versions")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if replayed {
		t.Fatalf("expected replayed=false without key")
	}
}

func TestSaveWithoutKeyIsNoop(t *testing.T) {
	st := &fakeStore{}
	if err := Save(context.Background(), st, Scope{WorkspaceID: "ws_1", ActorID: "act_1"}, "POST /tve/versions/tv_1:publish", 200, map[string]any{"status": "PUBLISHED"}); err != nil {
		t.Fatalf("save err: %v", err)
	}
	if st.saveN != 0 {
		t.Fatalf("expected no store write without key, got %d", st.saveN)
	}
}

func TestSaveThenReplayReturnsSamePayload(t *testing.T) {
	st := &fakeStore{}
	scope := Scope{WorkspaceID: "ws_1", ActorID: "act_1", IdempotencyKey: "k1"}
	resp := map[string]any{"id": "tv_1", "status": "PUBLISHED"}

	if err := Save(context.Background(), st, scope, "POST /tve/versions/tv_1:publish", 200, resp); err != nil {
		t.Fatalf("save err: %v", err)
	}

	status, body, replayed, err := Replay(context.Background(), st, scope, "POST /tve/versions/tv_1:publish")
	if err != nil {
		t.Fatalf("replay err: %v", err)
	}
	if !replayed {
		t.Fatalf("expected replayed=true")
	}
	if status != 200 {
		t.Fatalf("expected status 200, got %d", status)
	}
	if body["id"] != "tv_1" || body["status"] != "PUBLISHED" {
		t.Fatalf("unexpected replay body: %+v", body)
	}
}

func TestReplayIsolatedByScopeAndEndpoint(t *testing.T) {
	st := &fakeStore{}
	scope := Scope{WorkspaceID: "ws_1", ActorID: "act_1", IdempotencyKey: "k1"}
	if err := Save(context.Background(), st, scope, "POST /tve/versions/tv_1:publish", 200, map[string]any{"id": "tv_1"}); err != nil {
		t.Fatalf("save err: %v", err)
	}

	otherWorkspace := Scope{WorkspaceID: "ws_2", ActorID: "act_1", IdempotencyKey: "k1"}
	if _, _, replayed, _ := Replay(context.Background(), st, otherWorkspace, "POST /tve/versions/tv_1:publish"); replayed {
		t.Fatalf("key must not replay across workspaces")
	}
	if _, _, replayed, _ := Replay(context.Background(), st, scope, "POST /tve/versions/tv_1:archive"); replayed {
		t.Fatalf("key must not replay across endpoints")
	}
}

func TestFirstWriteWins(t *testing.T) {
	st := &fakeStore{}
	scope := Scope{WorkspaceID: "ws_1", ActorID: "act_1", IdempotencyKey: "k1"}
	if err := Save(context.Background(), st, scope, "POST /tve/templates/tpl_1/versions", 201, map[string]any{"id": "tv_first"}); err != nil {
		t.Fatalf("save err: %v", err)
	}
	if err := Save(context.Background(), st, scope, "POST /tve/templates/tpl_1/versions", 500, map[string]any{"id": "tv_second"}); err != nil {
		t.Fatalf("second save err: %v", err)
	}
	status, body, replayed, err := Replay(context.Background(), st, scope, "POST /tve/templates/tpl_1/versions")
	if err != nil || !replayed {
		t.Fatalf("replay err=%v replayed=%v", err, replayed)
	}
	if status != 201 || body["id"] != "tv_first" {
		t.Fatalf("expected first write to win, got status=%d body=%v", status, body)
	}
}

func TestReplayStoreError(t *testing.T) {
	st := &fakeStore{getErr: errors.New("db down")}
	_, _, replayed, err := Replay(context.Background(), st, Scope{
		WorkspaceID:    "ws_1",
		ActorID:        "act_1",
		IdempotencyKey: "k1",
	}, "POST /tve/templates/tpl_1/versions")
	if replayed {
		t.Fatalf("expected replayed=false on error")
	}
	if err == nil {
		t.Fatalf("expected error")
	}
}
