package registry

import "testing"

func TestInsertRejectsDuplicateSID(t *testing.T) {
	r := New()
	if !r.Insert(&Subscription{SID: "a", EventURL: "http://h/1"}) {
		t.Fatal("first insert should succeed")
	}
	if r.Insert(&Subscription{SID: "a", EventURL: "http://h/2"}) {
		t.Fatal("duplicate SID insert should fail")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestFindReturnsNilForMissing(t *testing.T) {
	r := New()
	if r.Find("nope") != nil {
		t.Fatal("Find on empty registry should return nil")
	}
}

func TestRemoveDeletesBySID(t *testing.T) {
	r := New()
	r.Insert(&Subscription{SID: "a"})
	r.Insert(&Subscription{SID: "b"})
	if !r.Remove("a") {
		t.Fatal("Remove should report true for existing SID")
	}
	if r.Remove("a") {
		t.Fatal("second Remove of same SID should report false")
	}
	if r.Find("a") != nil {
		t.Fatal("removed subscription should not be found")
	}
	if r.Find("b") == nil {
		t.Fatal("unrelated subscription should remain")
	}
}

func TestSnapshotFirstDrainsInOrder(t *testing.T) {
	r := New()
	r.Insert(&Subscription{SID: "a"})
	r.Insert(&Subscription{SID: "b"})
	// Insert prepends, so "b" (inserted last) is at the head.
	first := r.SnapshotFirst()
	if first == nil || first.SID != "b" {
		t.Fatalf("first = %+v, want SID b", first)
	}
	second := r.SnapshotFirst()
	if second == nil || second.SID != "a" {
		t.Fatalf("second = %+v, want SID a", second)
	}
	if r.SnapshotFirst() != nil {
		t.Fatal("drained registry should return nil")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestNoRenewTimerSentinel(t *testing.T) {
	sub := &Subscription{SID: "a", RenewEventID: NoRenewTimer}
	if sub.RenewEventID != -1 {
		t.Fatalf("NoRenewTimer = %d, want -1", sub.RenewEventID)
	}
}
