package annotation

import "testing"

func TestResolveIDPrefersPersistentID(t *testing.T) {
	a := &Annotation{ID: "ann-1", LocalID: "local-1"}
	if got := ResolveID(a); got != "ann-1" {
		t.Errorf("ResolveID() = %q, want ann-1", got)
	}
}

func TestResolveIDFallsBackToLocalID(t *testing.T) {
	a := &Annotation{LocalID: "local-1"}
	if got := ResolveID(a); got != "local-1" {
		t.Errorf("ResolveID() = %q, want local-1", got)
	}
	if got := ResolveID(nil); got != "" {
		t.Errorf("ResolveID(nil) = %q, want empty", got)
	}
}

func TestIsSaved(t *testing.T) {
	if IsSaved(&Annotation{LocalID: "local-1"}) {
		t.Error("record without persistent id reported saved")
	}
	if !IsSaved(&Annotation{ID: "ann-1"}) {
		t.Error("record with persistent id reported unsaved")
	}
	if IsSaved(nil) {
		t.Error("nil record reported saved")
	}
}

func TestIsReplyAndParent(t *testing.T) {
	top := &Annotation{ID: "A"}
	if IsReply(top) {
		t.Error("annotation without references reported as reply")
	}
	if got := Parent(top); got != "" {
		t.Errorf("Parent() = %q, want empty", got)
	}

	reply := &Annotation{ID: "C", References: []string{"A", "B"}}
	if !IsReply(reply) {
		t.Error("annotation with references not reported as reply")
	}
	if got := Parent(reply); got != "B" {
		t.Errorf("Parent() = %q, want nearest ancestor B", got)
	}
}
