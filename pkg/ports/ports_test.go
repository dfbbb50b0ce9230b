package ports

import "testing"

func TestCandidates_Sorted(t *testing.T) {
	for i := 1; i < len(Candidates); i++ {
		if Candidates[i] <= Candidates[i-1] {
			t.Errorf("ports not sorted: %d at index %d <= %d at index %d", Candidates[i], i, Candidates[i-1], i-1)
		}
	}
}

func TestCandidates_Count(t *testing.T) {
	if len(Candidates) != 16 {
		t.Errorf("got %d candidate ports, want 16", len(Candidates))
	}
}

func TestCandidates_CoverProbeClasses(t *testing.T) {
	set := make(map[int]bool)
	for _, p := range Candidates {
		set[p] = true
	}
	for p := range PlainHTTP {
		if !set[p] {
			t.Errorf("plain HTTP port %d not a candidate", p)
		}
	}
	for p := range TLSHTTP {
		if !set[p] {
			t.Errorf("TLS port %d not a candidate", p)
		}
	}
	if !set[SSH] {
		t.Errorf("ssh port %d not a candidate", SSH)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]int{443, 80, 443, 0, 70000, 22})
	want := []int{22, 80, 443}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestIsWeb(t *testing.T) {
	for _, p := range []int{80, 8080, 443, 8443} {
		if !IsWeb(p) {
			t.Errorf("IsWeb(%d) = false", p)
		}
	}
	if IsWeb(22) {
		t.Error("IsWeb(22) = true")
	}
}
