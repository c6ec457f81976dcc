package toolsim

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestSimulatedHonorsReliability(t *testing.T) {
	rolls := []float64{0.1, 0.9, 0.5, 0.79}
	i := 0
	exec := NewSimulatedWithRoll(func() float64 {
		v := rolls[i%len(rolls)]
		i++
		return v
	})

	wantOK := []bool{true, false, true, true}
	for n, want := range wantOK {
		res, err := exec.Execute(context.Background(), Call{Tool: "lookup_record", Reliability: 0.8})
		if err != nil {
			t.Fatalf("execute %d: %v", n, err)
		}
		if res.OK != want {
			t.Errorf("execute %d ok = %v, want %v (roll %v)", n, res.OK, want, rolls[n])
		}
	}
}

func TestSimulatedPayloadCarriesReference(t *testing.T) {
	exec := NewSimulatedWithRoll(func() float64 { return 0 })
	res, err := exec.Execute(context.Background(), Call{Tool: "publish_record", Reliability: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatal("reliability 1 call failed")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(res.Payload), &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["tool"] != "publish_record" {
		t.Errorf("payload tool = %v", payload["tool"])
	}
	ref, _ := payload["ref"].(string)
	if !strings.HasPrefix(ref, "publish_record-") {
		t.Errorf("payload ref = %q, want tool-scoped reference", ref)
	}
}

func TestSimulatedFailureNamesTool(t *testing.T) {
	exec := NewSimulatedWithRoll(func() float64 { return 0.99 })
	res, err := exec.Execute(context.Background(), Call{Tool: "transform_record", Reliability: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("roll above reliability reported success")
	}
	if !strings.HasPrefix(res.Reason, "transform_record: ") {
		t.Errorf("reason = %q, want tool-prefixed description", res.Reason)
	}
}

func TestSimulatedZeroReliabilityAlwaysFails(t *testing.T) {
	exec := NewSimulated(1)
	for i := 0; i < 20; i++ {
		res, err := exec.Execute(context.Background(), Call{Tool: "audit_log", Reliability: 0})
		if err != nil {
			t.Fatal(err)
		}
		if res.OK {
			t.Fatal("reliability 0 call succeeded")
		}
	}
}

func TestSimulatedSeedIsReproducible(t *testing.T) {
	run := func() []bool {
		exec := NewSimulated(42)
		var out []bool
		for i := 0; i < 10; i++ {
			res, err := exec.Execute(context.Background(), Call{Tool: "lookup_record", Reliability: 0.5})
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, res.OK)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seeded sequences diverge at %d: %v vs %v", i, a, b)
		}
	}
}

func TestSimulatedHonorsContext(t *testing.T) {
	exec := NewSimulated(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := exec.Execute(ctx, Call{Tool: "lookup_record", Reliability: 1}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestNoOpAlwaysFails(t *testing.T) {
	res, err := NoOp{}.Execute(context.Background(), Call{Tool: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Error("disabled tooling must not report success")
	}
	if !strings.Contains(res.Reason, "anything") {
		t.Errorf("reason should name the tool, got %q", res.Reason)
	}
}
