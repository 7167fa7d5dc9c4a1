package prompts

import (
	"strings"
	"testing"
)

func TestSortByDateDescending(t *testing.T) {
	items := []Prompt{
		{ID: "old", Date: "2023-01-01"},
		{ID: "undated", Date: ""},
		{ID: "minute", Date: "2024-03-10T08:30"},
		{ID: "garbage", Date: "yesterday"},
		{ID: "zoned", Date: "2024-03-10T09:00:00Z"},
		{ID: "tie-a", Date: "2023-06-01 12:00"},
		{ID: "tie-b", Date: "2023-06-01T12:00"},
	}

	sortByDateDescending(items)

	got := strings.Join(promptIDs(items), ",")
	want := "zoned,minute,tie-a,tie-b,old,undated,garbage"
	if got != want {
		t.Fatalf("unexpected order %s, want %s", got, want)
	}
}

func TestParseDateUnknownFormat(t *testing.T) {
	if !parseDate("10/03/2024").IsZero() {
		t.Fatalf("expected unparseable date to map to zero time")
	}
	if parseDate(" 2024-03-10 ").IsZero() {
		t.Fatalf("expected surrounding whitespace to be ignored")
	}
}
