package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(30*time.Second, zap.NewNop())
}

func readyNode(id string, engine types.Engine) types.Node {
	return types.Node{
		NodeID:      id,
		Engine:      engine,
		Host:        "127.0.0.1",
		Port:        8001,
		Status:      types.StatusReady,
		ModelLoaded: true,
	}
}

func TestRegisterFiresOnlineOnceForSameNode(t *testing.T) {
	r := newTestRegistry(t)

	var online int
	r.OnNodeOnline(func(types.Node) { online++ })

	r.Register(readyNode("n1", types.EngineXTTS))
	r.Register(readyNode("n1", types.EngineXTTS)) // re-register refreshes silently

	if online != 1 {
		t.Errorf("online events = %d, want 1", online)
	}
	if got := r.Stats().TotalNodes; got != 1 {
		t.Errorf("TotalNodes = %d, want 1", got)
	}
}

func TestRegisterAfterOfflineFiresOnlineAgain(t *testing.T) {
	r := newTestRegistry(t)

	var online int
	r.OnNodeOnline(func(types.Node) { online++ })

	r.Register(readyNode("n1", types.EngineXTTS))
	r.UpdateStatus("n1", types.StatusOffline)
	r.Register(readyNode("n1", types.EngineXTTS)) // recovery counts as coming online

	if online != 2 {
		t.Errorf("online events = %d, want 2", online)
	}
}

func TestRegisterWithNewEngineMovesIndexBucket(t *testing.T) {
	r := newTestRegistry(t)

	r.Register(readyNode("n1", types.EngineXTTS))
	r.Register(readyNode("n1", types.EngineOpenVoice))

	if got := len(r.List(Filter{Engine: types.EngineXTTS})); got != 0 {
		t.Errorf("xtts nodes after engine change = %d, want 0", got)
	}
	if got := len(r.List(Filter{Engine: types.EngineOpenVoice})); got != 1 {
		t.Errorf("openvoice nodes after engine change = %d, want 1", got)
	}

	if !r.Unregister("n1") {
		t.Fatal("Unregister = false, want true")
	}
	// A stale id in the old bucket would make List hit a removed record.
	if got := len(r.List(Filter{})); got != 0 {
		t.Errorf("nodes after unregister = %d, want 0", got)
	}
	if got := r.Stats().TotalNodes; got != 0 {
		t.Errorf("TotalNodes after unregister = %d, want 0", got)
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)

	var offline int
	r.OnNodeOffline(func(types.Node) { offline++ })

	r.Register(readyNode("n1", types.EngineXTTS))
	if !r.Unregister("n1") {
		t.Fatal("first Unregister = false, want true")
	}
	if r.Unregister("n1") {
		t.Error("second Unregister = true, want false")
	}
	if offline != 1 {
		t.Errorf("offline events = %d, want 1", offline)
	}
}

func TestHeartbeatUnknownNode(t *testing.T) {
	r := newTestRegistry(t)
	if r.Heartbeat("ghost", nil) {
		t.Error("Heartbeat on unknown node = true, want false")
	}
}

func TestHeartbeatSyncsMetricsAndStatus(t *testing.T) {
	r := newTestRegistry(t)

	var from, to types.Status
	r.OnNodeStatusChange(func(_ types.Node, f, t2 types.Status) { from, to = f, t2 })

	node := readyNode("n1", types.EngineXTTS)
	node.Status = types.StatusStandby
	node.ModelLoaded = false
	r.Register(node)

	ok := r.Heartbeat("n1", &types.Metrics{
		Status:            types.StatusReady,
		CPUPercent:        42.5,
		CurrentConcurrent: 3,
		RequestCount:      10,
		AvgResponseTimeMS: 120,
	})
	if !ok {
		t.Fatal("Heartbeat = false, want true")
	}

	got, err := r.Node("n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusReady {
		t.Errorf("Status = %q, want ready", got.Status)
	}
	if !got.ModelLoaded {
		t.Error("ModelLoaded = false after ready heartbeat")
	}
	if got.CPUPercent != 42.5 {
		t.Errorf("CPUPercent = %v, want 42.5", got.CPUPercent)
	}
	if from != types.StatusStandby || to != types.StatusReady {
		t.Errorf("status change event = %q -> %q, want standby -> ready", from, to)
	}
}

func TestSelectRoundRobinAlternates(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(readyNode("a", types.EngineXTTS))
	r.Register(readyNode("b", types.EngineXTTS))

	var picks []string
	for i := 0; i < 3; i++ {
		n, err := r.Select(types.EngineXTTS, StrategyRoundRobin)
		if err != nil {
			t.Fatal(err)
		}
		picks = append(picks, n.NodeID)
	}
	want := []string{"a", "b", "a"}
	for i := range want {
		if picks[i] != want[i] {
			t.Fatalf("picks = %v, want %v", picks, want)
		}
	}
}

func TestSelectLeastLoad(t *testing.T) {
	r := newTestRegistry(t)
	busy := readyNode("busy", types.EngineXTTS)
	busy.CurrentConcurrent = 9
	idle := readyNode("idle", types.EngineXTTS)
	r.Register(busy)
	r.Register(idle)

	n, err := r.Select(types.EngineXTTS, StrategyLeastLoad)
	if err != nil {
		t.Fatal(err)
	}
	if n.NodeID != "idle" {
		t.Errorf("Select least_load = %q, want idle", n.NodeID)
	}
}

func TestSelectNoAvailableNode(t *testing.T) {
	r := newTestRegistry(t)

	standby := readyNode("n1", types.EngineOpenVoice)
	standby.Status = types.StatusStandby
	standby.ModelLoaded = false
	r.Register(standby)

	_, err := r.Select(types.EngineOpenVoice, StrategyRoundRobin)
	var derr *types.Error
	if !errors.As(err, &derr) || derr.Code != types.CodeNoAvailableNode {
		t.Errorf("Select error = %v, want code %s", err, types.CodeNoAvailableNode)
	}
}

func TestSweepMarksOfflineButKeepsRecord(t *testing.T) {
	r := New(50*time.Millisecond, zap.NewNop())

	var offline []string
	r.OnNodeOffline(func(n types.Node) { offline = append(offline, n.NodeID) })

	r.Register(readyNode("stale", types.EngineXTTS))
	time.Sleep(80 * time.Millisecond)
	r.sweep()

	got, err := r.Node("stale")
	if err != nil {
		t.Fatalf("node removed by sweeper: %v", err)
	}
	if got.Status != types.StatusOffline {
		t.Errorf("Status = %q, want offline", got.Status)
	}
	if len(offline) != 1 || offline[0] != "stale" {
		t.Errorf("offline events = %v, want [stale]", offline)
	}

	// A second sweep must not fire the event again.
	r.sweep()
	if len(offline) != 1 {
		t.Errorf("offline events after second sweep = %d, want 1", len(offline))
	}
}

func TestStatsPerEngine(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(readyNode("x1", types.EngineXTTS))
	standby := readyNode("x2", types.EngineXTTS)
	standby.Status = types.StatusStandby
	standby.ModelLoaded = false
	r.Register(standby)
	r.Register(readyNode("o1", types.EngineOpenVoice))

	stats := r.Stats()
	if stats.TotalNodes != 3 || stats.OnlineNodes != 3 || stats.ReadyNodes != 2 {
		t.Errorf("stats = %+v", stats)
	}
	xtts := stats.Engines["xtts"]
	if xtts.Total != 2 || xtts.Ready != 1 {
		t.Errorf("xtts stats = %+v", xtts)
	}
	// Engines with no nodes still appear.
	if _, ok := stats.Engines["gpt-sovits"]; !ok {
		t.Error("gpt-sovits missing from engine stats")
	}
}

func TestSystemStatusAveragesActiveNodesOnly(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(readyNode("a", types.EngineXTTS))
	r.Register(readyNode("b", types.EngineXTTS))
	r.Register(readyNode("c", types.EngineXTTS)) // never served, excluded from avg

	r.Heartbeat("a", &types.Metrics{Status: types.StatusReady, RequestCount: 10, AvgResponseTimeMS: 100})
	r.Heartbeat("b", &types.Metrics{Status: types.StatusReady, RequestCount: 5, AvgResponseTimeMS: 300})

	status := r.SystemStatus()
	if status.TotalRequests != 15 {
		t.Errorf("TotalRequests = %d, want 15", status.TotalRequests)
	}
	if status.AvgResponseTimeMS != 200 {
		t.Errorf("AvgResponseTimeMS = %v, want 200", status.AvgResponseTimeMS)
	}
}

func TestSendCommandPostsToNodeEndpoint(t *testing.T) {
	var got types.Command
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/command" {
			t.Errorf("path = %q, want /command", req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Errorf("decode command: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	r := newTestRegistry(t)
	node := readyNode("n1", types.EngineXTTS)
	node.Host = u.Hostname()
	node.Port = port
	r.Register(node)

	err := r.SendCommand(context.Background(), "n1", types.Command{Command: "activate"})
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got.Command != "activate" {
		t.Errorf("received command = %q, want activate", got.Command)
	}

	err = r.SendCommand(context.Background(), "ghost", types.Command{Command: "stop"})
	var derr *types.Error
	if !errors.As(err, &derr) || derr.Code != types.CodeNodeNotFound {
		t.Errorf("SendCommand unknown node error = %v, want NODE_NOT_FOUND", err)
	}
}
