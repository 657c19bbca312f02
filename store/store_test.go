package store

import (
	"testing"

	"github.com/open-politics/globe/content"
)

func TestSelectedID(t *testing.T) {
	s := New()

	if got := s.SelectedID(); got != "" {
		t.Errorf("Expected empty initial selection, got %q", got)
	}

	s.SetSelectedID("c-7")
	if got := s.SelectedID(); got != "c-7" {
		t.Errorf("Expected c-7, got %q", got)
	}
}

func TestSubscribeNotifies(t *testing.T) {
	s := New()

	var calls int
	unsub := s.Subscribe(func() { calls++ })

	s.SetSelectedID("c-1")
	s.SetSelectedID("c-1") // repeat still notifies, dedup is the subscriber's job
	s.SetActiveContents([]content.Summary{{ID: "c-1", Title: "March"}})

	if calls != 3 {
		t.Errorf("Expected 3 notifications, got %d", calls)
	}

	unsub()
	s.SetSelectedID("c-2")
	if calls != 3 {
		t.Errorf("Expected no notification after unsubscribe, got %d", calls)
	}
}

func TestActiveContentsCopied(t *testing.T) {
	s := New()

	in := []content.Summary{{ID: "c-1", Title: "March"}}
	s.SetActiveContents(in)
	in[0].Title = "mutated"

	got := s.ActiveContents()
	if got[0].Title != "March" {
		t.Errorf("Expected the store to hold its own copy, got %q", got[0].Title)
	}

	got[0].Title = "mutated again"
	if s.ActiveContents()[0].Title != "March" {
		t.Error("Expected reads to return copies")
	}
}

func TestUnsubscribeDuringNotify(t *testing.T) {
	s := New()

	var unsub func()
	var second int
	unsub = s.Subscribe(func() { unsub() })
	s.Subscribe(func() { second++ })

	s.SetSelectedID("c-1")
	s.SetSelectedID("c-2")

	if second != 2 {
		t.Errorf("Expected the surviving subscriber to see both updates, got %d", second)
	}
}
