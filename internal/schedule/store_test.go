package schedule

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/hpungsan/classmate/internal/embed"
	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/timetable"
)

type failingEmbedder struct {
	calls int
}

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	return nil, stderrors.New("embedding backend down")
}

func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	f.calls++
	return nil, stderrors.New("embedding backend down")
}

type shortEmbedder struct{ embed.Hashing }

func (s *shortEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := s.Hashing.EmbedBatch(ctx, texts)
	if err != nil || len(out) == 0 {
		return out, err
	}
	return out[:len(out)-1], nil
}

func dsaTimetable() timetable.Timetable {
	return timetable.Timetable{
		"Monday": {{Time: "9:00-9:55", Subject: "DSA", FullName: "Data Structures", Type: "Theory", Room: "NC34"}},
	}
}

func twoDayTimetable() timetable.Timetable {
	return timetable.Timetable{
		"Monday": {
			{Time: "9:00-9:55", Subject: "DSA", FullName: "Data Structures", Type: "Theory", Room: "NC34"},
			{Time: "10:00-10:55", Subject: "OS", FullName: "Operating Systems", Type: "Theory"},
		},
		"Tuesday": {
			{Time: "11:00-12:50", Subject: "CN-L", FullName: "Computer Networks Lab", Type: "Lab"},
		},
	}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(embed.NewHashing(0))
}

func TestScenarioDSA(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if err := s.ReplaceTimetable(ctx, "42", dsaTimetable()); err != nil {
		t.Fatalf("ReplaceTimetable() error = %v", err)
	}

	monday := s.FilterByDay("42", "Monday")
	if len(monday) != 1 {
		t.Fatalf("FilterByDay(Monday) len = %d, want 1", len(monday))
	}
	e := monday[0]
	if e.Time != "9:00-9:55" || e.Subject != "DSA" || e.FullName != "Data Structures" || e.Type != "Theory" || e.Room != "NC34" {
		t.Errorf("FilterByDay(Monday)[0] = %+v, want the DSA period", e)
	}

	matches, err := s.Query(ctx, "42", "data structures class", 5)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) == 0 || matches[0].Subject != "DSA" {
		t.Fatalf("Query() first = %+v, want DSA", matches)
	}

	if !s.Clear("42") {
		t.Error("Clear() = false, want true")
	}
	matches, err = s.Query(ctx, "42", "data structures class", 5)
	if err != nil {
		t.Fatalf("Query() after Clear error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Query() after Clear = %+v, want none", matches)
	}
}

func TestQuery_RanksRelevantPeriodFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if err := s.ReplaceTimetable(ctx, "42", twoDayTimetable()); err != nil {
		t.Fatalf("ReplaceTimetable() error = %v", err)
	}

	matches, err := s.Query(ctx, "42", "data structures class", 5)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("len(matches) = %d, want 3", len(matches))
	}
	if matches[0].Subject != "DSA" {
		t.Errorf("matches[0].Subject = %q, want DSA", matches[0].Subject)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Distance < matches[i-1].Distance {
			t.Errorf("matches not sorted by distance at %d: %v < %v", i, matches[i].Distance, matches[i-1].Distance)
		}
	}
}

func TestReplaceTimetable_Deterministic(t *testing.T) {
	ctx := context.Background()
	a, b := newStore(t), newStore(t)
	for _, s := range []*Store{a, b} {
		if err := s.ReplaceTimetable(ctx, "42", twoDayTimetable()); err != nil {
			t.Fatalf("ReplaceTimetable() error = %v", err)
		}
	}

	ea, eb := a.index.Entries("42"), b.index.Entries("42")
	if len(ea) != len(eb) {
		t.Fatalf("entry count differs: %d vs %d", len(ea), len(eb))
	}
	for i := range ea {
		if ea[i].Text != eb[i].Text {
			t.Errorf("text[%d] = %q vs %q", i, ea[i].Text, eb[i].Text)
		}
		for j := range ea[i].Vector {
			if ea[i].Vector[j] != eb[i].Vector[j] {
				t.Fatalf("vector[%d][%d] differs", i, j)
			}
		}
	}
	if ea[0].Text != "Day: Monday, Time: 9:00-9:55, Subject: DSA, Full Name: Data Structures, Type: Theory" {
		t.Errorf("text[0] = %q", ea[0].Text)
	}
}

func TestReplaceTimetable_IndexMatchesFlattening(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if err := s.ReplaceTimetable(ctx, "42", twoDayTimetable()); err != nil {
		t.Fatalf("ReplaceTimetable() error = %v", err)
	}

	want := twoDayTimetable().Flatten()
	got := s.index.Entries("42")
	if len(got) != len(want) {
		t.Fatalf("len(entries) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Day != want[i].Day || got[i].Subject != want[i].Subject {
			t.Errorf("entries[%d] = %s/%s, want %s/%s", i, got[i].Day, got[i].Subject, want[i].Day, want[i].Subject)
		}
		if got[i].ID == "" {
			t.Errorf("entries[%d].ID is empty", i)
		}
	}

	if err := s.ReplaceTimetable(ctx, "42", dsaTimetable()); err != nil {
		t.Fatalf("second ReplaceTimetable() error = %v", err)
	}
	if got := s.Count("42"); got != 1 {
		t.Errorf("Count after replace = %d, want 1", got)
	}
	if got := s.FilterByDay("42", "Tuesday"); len(got) != 0 {
		t.Errorf("FilterByDay(Tuesday) after replace = %+v, want none", got)
	}
}

func TestReplaceTimetable_FailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	fe := &failingEmbedder{}
	s := New(fe)

	err := s.ReplaceTimetable(ctx, "42", dsaTimetable())
	if !errors.Is(err, errors.ErrCollaborator) {
		t.Fatalf("ReplaceTimetable() error = %v, want ErrCollaborator", err)
	}
	if s.HasTimetable("42") {
		t.Error("HasTimetable() = true after failed replace, want false")
	}
	if got := s.Count("42"); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestReplaceTimetable_FailureKeepsExisting(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if err := s.ReplaceTimetable(ctx, "42", twoDayTimetable()); err != nil {
		t.Fatalf("ReplaceTimetable() error = %v", err)
	}

	s.embedder = &failingEmbedder{}
	if err := s.ReplaceTimetable(ctx, "42", dsaTimetable()); err == nil {
		t.Fatal("ReplaceTimetable() error = nil, want failure")
	}

	tt, ok := s.Timetable("42")
	if !ok || tt.Len() != 3 {
		t.Errorf("Timetable() = %v (ok=%v), want the original 3 periods", tt, ok)
	}
	if got := s.Count("42"); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}

func TestReplaceTimetable_VectorCountMismatch(t *testing.T) {
	s := New(&shortEmbedder{Hashing: *embed.NewHashing(16)})
	err := s.ReplaceTimetable(context.Background(), "42", twoDayTimetable())
	if !errors.Is(err, errors.ErrCollaborator) {
		t.Fatalf("ReplaceTimetable() error = %v, want ErrCollaborator", err)
	}
	if s.HasTimetable("42") {
		t.Error("HasTimetable() = true, want false")
	}
}

func TestQuery_NoEntriesSkipsEmbedding(t *testing.T) {
	fe := &failingEmbedder{}
	s := New(fe)

	matches, err := s.Query(context.Background(), "nobody", "anything", 5)
	if err != nil || len(matches) != 0 {
		t.Errorf("Query() = %v, %v; want no matches and nil error", matches, err)
	}
	if fe.calls != 0 {
		t.Errorf("embedder calls = %d, want 0", fe.calls)
	}
}

func TestTimetable_CloneOnRead(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if err := s.ReplaceTimetable(ctx, "42", dsaTimetable()); err != nil {
		t.Fatalf("ReplaceTimetable() error = %v", err)
	}

	tt, _ := s.Timetable("42")
	tt["Monday"][0].Subject = "MUTATED"

	again, _ := s.Timetable("42")
	if again["Monday"][0].Subject != "DSA" {
		t.Errorf("stored timetable mutated via returned copy: %q", again["Monday"][0].Subject)
	}
}

func TestDay(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if _, ok := s.Day("42", "Monday"); ok {
		t.Error("Day() ok = true without timetable")
	}
	if err := s.ReplaceTimetable(ctx, "42", dsaTimetable()); err != nil {
		t.Fatalf("ReplaceTimetable() error = %v", err)
	}
	if periods, ok := s.Day("42", "Saturday"); !ok || len(periods) != 0 {
		t.Errorf("Day(Saturday) = %v, %v; want empty, true", periods, ok)
	}
	if periods, ok := s.Day("42", "Monday"); !ok || len(periods) != 1 {
		t.Errorf("Day(Monday) = %v, %v; want 1 period", periods, ok)
	}
}

func TestClear_Idempotent(t *testing.T) {
	s := newStore(t)
	if s.Clear("42") {
		t.Error("Clear() on empty store = true, want false")
	}
	if s.Clear("42") {
		t.Error("second Clear() = true, want false")
	}
}

func TestUsersIsolated(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if err := s.ReplaceTimetable(ctx, "a", dsaTimetable()); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceTimetable(ctx, "b", twoDayTimetable()); err != nil {
		t.Fatal(err)
	}

	s.Clear("a")
	if got := s.Count("b"); got != 3 {
		t.Errorf("Count(b) after Clear(a) = %d, want 3", got)
	}
}

func TestWithClock_StampsEntries(t *testing.T) {
	fixed := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	s := New(embed.NewHashing(8), WithClock(func() time.Time { return fixed }))
	if err := s.ReplaceTimetable(context.Background(), "42", dsaTimetable()); err != nil {
		t.Fatal(err)
	}
	if got := s.FilterByDay("42", "Monday")[0].InsertedAt; !got.Equal(fixed) {
		t.Errorf("InsertedAt = %v, want %v", got, fixed)
	}
}
