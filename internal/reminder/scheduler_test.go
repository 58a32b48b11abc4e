package reminder

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/classmate/internal/testfixtures"
	"github.com/hpungsan/classmate/internal/timetable"
)

type mapSource map[string]timetable.Timetable

func (m mapSource) Day(userID, day string) ([]timetable.Period, bool) {
	tt, ok := m[userID]
	if !ok {
		return nil, false
	}
	return tt.Day(day), true
}

type panicSource struct {
	mapSource
	bad string
}

func (p panicSource) Day(userID, day string) ([]timetable.Period, bool) {
	if userID == p.bad {
		panic("corrupt record")
	}
	return p.mapSource.Day(userID, day)
}

type sent struct {
	userID string
	text   string
}

type capture struct {
	mu   sync.Mutex
	msgs []sent
}

func (c *capture) Submit(_ context.Context, userID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, sent{userID, text})
	return nil
}

func (c *capture) sent() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sent(nil), c.msgs...)
}

func weekTimetable() timetable.Timetable {
	return timetable.Timetable{
		"Monday":  {{Time: "9:00-9:55", Subject: "DSA", FullName: "Data Structures", Type: "Theory"}},
		"Tuesday": {{Time: "10:00-10:55", Subject: "OS", FullName: "Operating Systems", Type: "Theory", Room: "NC34"}},
		"Friday":  {},
	}
}

// monday returns 2025-03-03 (a Monday) at hh:mm in Asia/Kolkata.
func monday(hh, mm int) time.Time {
	return time.Date(2025, 3, 3, hh, mm, 0, 0, testfixtures.Kolkata())
}

func newScheduler(src Source, sub Submitter, clock *testfixtures.Clock, opts ...Option) *Scheduler {
	opts = append([]Option{WithClock(clock.Now), WithLocation(testfixtures.Kolkata())}, opts...)
	return New(src, sub, opts...)
}

func TestScenario_830PM(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(10, 0))
	sub := &capture{}
	s := newScheduler(mapSource{"42": weekTimetable()}, sub, clock)

	at, err := ParseTimeOfDay("8:30 PM")
	if err != nil {
		t.Fatalf("ParseTimeOfDay() error = %v", err)
	}
	job := s.Set("42", at)
	if job.Time.String() != "20:30" {
		t.Fatalf("stored time = %s, want 20:30", job.Time)
	}
	if job.LastFired != "" {
		t.Fatalf("LastFired = %q, want empty before the time passes", job.LastFired)
	}

	if n := s.Tick(ctx); n != 0 {
		t.Errorf("Tick at 10:00 fired %d, want 0", n)
	}

	clock.Set(monday(20, 30))
	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("Tick at 20:30 fired %d, want 1", n)
	}

	clock.Set(monday(20, 31))
	if n := s.Tick(ctx); n != 0 {
		t.Errorf("Tick at 20:31 fired %d, want 0", n)
	}
	clock.Set(monday(23, 59))
	if n := s.Tick(ctx); n != 0 {
		t.Errorf("Tick at 23:59 fired %d, want 0", n)
	}

	clock.Set(monday(20, 30).AddDate(0, 0, 1))
	if n := s.Tick(ctx); n != 1 {
		t.Errorf("Tick on D+1 at 20:30 fired %d, want 1", n)
	}

	msgs := sub.sent()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "*Tomorrow's Schedule (Tuesday)*") || !strings.Contains(msgs[0].text, "OS") {
		t.Errorf("day D message = %q, want Tuesday digest", msgs[0].text)
	}
	if !strings.HasPrefix(msgs[0].text, "*Daily Reminder*\n\n") {
		t.Errorf("message missing reminder header: %q", msgs[0].text)
	}
	if !strings.Contains(msgs[0].text, "Sent at: 08:30 PM") {
		t.Errorf("message missing sent-at line: %q", msgs[0].text)
	}
	if !strings.Contains(msgs[1].text, "*Tomorrow (Wednesday)*") {
		t.Errorf("day D+1 message = %q, want Wednesday free-day digest", msgs[1].text)
	}

	got, _ := s.Get("42")
	if got.LastFired != "2025-03-04" {
		t.Errorf("LastFired = %q, want 2025-03-04", got.LastFired)
	}
}

func TestTick_FullDayFiresOnce(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(0, 0))
	sub := &capture{}
	s := newScheduler(mapSource{"42": weekTimetable()}, sub, clock)
	s.Set("42", MustParseTimeOfDay("07:15"))

	fired := 0
	for minute := 0; minute < 24*60; minute++ {
		fired += s.Tick(ctx)
		clock.Advance(time.Minute)
	}
	if fired != 1 {
		t.Errorf("fired %d times across the day, want 1", fired)
	}
	if len(sub.sent()) != 1 {
		t.Errorf("sent %d messages, want 1", len(sub.sent()))
	}
}

func TestTick_MissedTicksStillFireSameDay(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(8, 0))
	sub := &capture{}
	s := newScheduler(mapSource{"42": weekTimetable()}, sub, clock)
	s.Set("42", MustParseTimeOfDay("09:00"))

	clock.Set(monday(13, 37))
	if n := s.Tick(ctx); n != 1 {
		t.Errorf("late Tick fired %d, want 1", n)
	}
}

func TestSet_AfterTimePassedSeedsToday(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(21, 0))
	sub := &capture{}
	s := newScheduler(mapSource{"42": weekTimetable()}, sub, clock)

	job := s.Set("42", MustParseTimeOfDay("20:30"))
	if job.LastFired != "2025-03-03" {
		t.Errorf("LastFired = %q, want 2025-03-03", job.LastFired)
	}
	if n := s.Tick(ctx); n != 0 {
		t.Errorf("Tick fired %d, want 0 on the day of creation", n)
	}

	clock.Set(monday(20, 30).AddDate(0, 0, 1))
	if n := s.Tick(ctx); n != 1 {
		t.Errorf("Tick next day fired %d, want 1", n)
	}
}

func TestSet_ReplaceDoesNotRefireSameDay(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(20, 0))
	sub := &capture{}
	s := newScheduler(mapSource{"42": weekTimetable()}, sub, clock)

	s.Set("42", MustParseTimeOfDay("20:30"))
	clock.Set(monday(20, 30))
	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("first Tick fired %d, want 1", n)
	}

	s.Set("42", MustParseTimeOfDay("22:00"))
	clock.Set(monday(22, 0))
	if n := s.Tick(ctx); n != 0 {
		t.Errorf("Tick after replace fired %d, want 0", n)
	}
	if j, _ := s.Get("42"); j.Time.String() != "22:00" {
		t.Errorf("Time = %s, want 22:00", j.Time)
	}
}

func TestTick_NoTimetableIsSilent(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(9, 0))
	sub := &capture{}
	s := newScheduler(mapSource{}, sub, clock)
	s.Set("ghost", MustParseTimeOfDay("10:00"))

	clock.Set(monday(10, 0))
	s.Tick(ctx)
	if len(sub.sent()) != 0 {
		t.Errorf("sent %v, want nothing", sub.sent())
	}
	if _, ok := s.Get("ghost"); !ok {
		t.Error("job removed, want it to stay registered")
	}
}

func TestTomorrowSchedule_EmptyDays(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		day  string
	}{
		{"absent day", monday(9, 0).AddDate(0, 0, 1), "Wednesday"},
		{"empty list", monday(9, 0).AddDate(0, 0, 3), "Friday"},
		{"sunday", monday(9, 0).AddDate(0, 0, 5), "Sunday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testfixtures.NewClock(tt.now)
			s := newScheduler(mapSource{"42": weekTimetable()}, &capture{}, clock)

			got, ok := s.TomorrowSchedule("42")
			if !ok {
				t.Fatal("TomorrowSchedule() ok = false, want true")
			}
			want := "*Tomorrow (" + tt.day + ")*\n\nNo classes scheduled! Enjoy your free day!"
			if got != want {
				t.Errorf("TomorrowSchedule() = %q, want %q", got, want)
			}
		})
	}
}

func TestTomorrowSchedule_NoTimetable(t *testing.T) {
	s := newScheduler(mapSource{}, &capture{}, testfixtures.NewClock(monday(9, 0)))
	if _, ok := s.TomorrowSchedule("42"); ok {
		t.Error("TomorrowSchedule() ok = true, want false")
	}
}

func TestTick_PanicDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(9, 0))
	sub := &capture{}
	src := panicSource{mapSource: mapSource{"a": weekTimetable(), "c": weekTimetable()}, bad: "b"}
	s := newScheduler(src, sub, clock)
	for _, u := range []string{"a", "b", "c"} {
		s.Set(u, MustParseTimeOfDay("10:00"))
	}

	clock.Set(monday(10, 0))
	if n := s.Tick(ctx); n != 3 {
		t.Errorf("Tick fired %d, want 3", n)
	}
	msgs := sub.sent()
	if len(msgs) != 2 || msgs[0].userID != "a" || msgs[1].userID != "c" {
		t.Errorf("sent = %+v, want a and c", msgs)
	}
}

func TestRemove_StopsFutureFiring(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(9, 0))
	sub := &capture{}
	s := newScheduler(mapSource{"42": weekTimetable()}, sub, clock)
	s.Set("42", MustParseTimeOfDay("10:00"))

	if !s.Remove("42") {
		t.Error("Remove() = false, want true")
	}
	if s.Remove("42") {
		t.Error("second Remove() = true, want false")
	}
	clock.Set(monday(10, 0))
	if n := s.Tick(ctx); n != 0 {
		t.Errorf("Tick fired %d after Remove, want 0", n)
	}
}

func TestTick_ClockGoingBackKeepsLastFired(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(9, 0))
	s := newScheduler(mapSource{"42": weekTimetable()}, &capture{}, clock)
	s.Restore(Job{UserID: "42", Time: MustParseTimeOfDay("08:00"), LastFired: "2025-03-04"})

	if n := s.Tick(ctx); n != 0 {
		t.Errorf("Tick fired %d, want 0", n)
	}
	if j, _ := s.Get("42"); j.LastFired != "2025-03-04" {
		t.Errorf("LastFired = %q, want 2025-03-04", j.LastFired)
	}
}

func TestRestore_KeepsLastFired(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(21, 0))
	sub := &capture{}
	s := newScheduler(mapSource{"42": weekTimetable()}, sub, clock)

	s.Restore(Job{UserID: "42", Time: MustParseTimeOfDay("20:30"), LastFired: "2025-03-02"})
	if n := s.Tick(ctx); n != 1 {
		t.Errorf("Tick after restart fired %d, want 1 (missed today's firing)", n)
	}
}

func TestFiredHook(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(9, 0))
	var got []string
	s := newScheduler(mapSource{"42": weekTimetable()}, &capture{}, clock,
		WithFiredHook(func(userID, date string) { got = append(got, userID+"@"+date) }))
	s.Set("42", MustParseTimeOfDay("09:30"))

	clock.Set(monday(9, 30))
	s.Tick(ctx)
	if len(got) != 1 || got[0] != "42@2025-03-03" {
		t.Errorf("hook calls = %v, want [42@2025-03-03]", got)
	}
}

func TestJobs_SortedCopies(t *testing.T) {
	s := newScheduler(mapSource{}, &capture{}, testfixtures.NewClock(monday(9, 0)))
	s.Set("b", MustParseTimeOfDay("10:00"))
	s.Set("a", MustParseTimeOfDay("11:00"))

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].UserID != "a" || jobs[1].UserID != "b" {
		t.Fatalf("Jobs() = %+v", jobs)
	}
	jobs[0].LastFired = "2099-01-01"
	if j, _ := s.Get("a"); j.LastFired != "" {
		t.Errorf("Jobs() returned a live reference")
	}
}

func TestJob_JSON(t *testing.T) {
	b, err := json.Marshal(Job{UserID: "42", Time: MustParseTimeOfDay("8:30 PM")})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"user_id":"42","time":"20:30"}` {
		t.Errorf("json = %s", b)
	}
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		t.Fatal(err)
	}
	if j.Time.String() != "20:30" {
		t.Errorf("round-trip time = %s", j.Time)
	}
}

func TestConcurrentSetAndTick(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(monday(9, 0))
	s := newScheduler(mapSource{"42": weekTimetable()}, &capture{}, clock)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.Set("42", TimeOfDay{Hour: i % 24, Minute: i % 60})
			if i%7 == 0 {
				s.Remove("42")
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.Tick(ctx)
		}
	}()
	wg.Wait()
}

func TestRun_TicksAndStops(t *testing.T) {
	clock := testfixtures.NewClock(monday(9, 0))
	sub := &capture{}
	s := newScheduler(mapSource{"42": weekTimetable()}, sub, clock, WithInterval(time.Second))
	s.Restore(Job{UserID: "42", Time: MustParseTimeOfDay("08:00")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(sub.sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Run did not tick")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
