package fn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.Error() != nil {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || e.Error() == nil {
		t.Fatal("Err should be err")
	}
}

func TestErrf(t *testing.T) {
	r := Errf[string]("code %d", 404)
	if r.Error() == nil || r.Error().Error() != "code 404" {
		t.Fatal("Errf wrong message")
	}
}

func TestMapResult(t *testing.T) {
	r := MapResult(Ok(3), func(v int) string { return strings.Repeat("a", v) })
	if v, _ := r.Unwrap(); v != "aaa" {
		t.Fatalf("got %q", v)
	}
	e := MapResult(Err[int](errors.New("x")), func(v int) string { return "" })
	if e.IsOk() {
		t.Fatal("MapResult on Err should stay Err")
	}
}

func TestFromPair(t *testing.T) {
	if !FromPair(1, nil).IsOk() {
		t.Fatal("nil error should be ok")
	}
	if FromPair(1, errors.New("x")).IsOk() {
		t.Fatal("error should be err")
	}
}

// --- Retry ---

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond,
		OnRetry: func(attempt int, err error) { retried = append(retried, attempt) }}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		if calls < 3 {
			return Errf[int]("fail %d", calls)
		}
		return Ok(calls)
	})
	if v, err := r.Unwrap(); err != nil || v != 3 {
		t.Fatalf("got %d, %v", v, err)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Fatalf("OnRetry calls = %v", retried)
	}
}

func TestRetryExhausts(t *testing.T) {
	calls := 0
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Errf[int]("always")
	})
	if r.IsOk() || calls != 3 {
		t.Fatalf("calls = %d, ok = %v", calls, r.IsOk())
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("404")
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond},
		func(context.Context) Result[int] {
			calls++
			return Err[int](Permanent(sentinel))
		})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(r.Error(), sentinel) || IsPermanent(r.Error()) {
		t.Fatalf("want unwrapped sentinel, got %v", r.Error())
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Hour}, func(context.Context) Result[int] {
		return Errf[int]("fail")
	})
	if !errors.Is(r.Error(), context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", r.Error())
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}

// --- FirstOk ---

func TestFirstOkKeepsFailureReasons(t *testing.T) {
	r, trace := FirstOk(context.Background(),
		Step[string]{Name: "native", Run: func(context.Context) Result[string] { return Errf[string]("too short") }},
		Step[string]{Name: "ocr", Run: func(context.Context) Result[string] { return Ok("text") }},
		Step[string]{Name: "never", Run: func(context.Context) Result[string] { t.Fatal("ran"); return Ok("") }},
	)
	if v, _ := r.Unwrap(); v != "text" {
		t.Fatalf("got %q", v)
	}
	if len(trace) != 2 || len(trace.Failures()) != 1 || trace.Failures()[0].Step != "native" {
		t.Fatalf("trace = %v", trace)
	}
	if trace.String() != "native: too short; ocr: ok" {
		t.Fatalf("String() = %q", trace.String())
	}
}

func TestFirstOkAllFail(t *testing.T) {
	r, trace := FirstOk(context.Background(),
		Step[int]{Name: "a", Run: func(context.Context) Result[int] { return Errf[int]("x") }},
		Step[int]{Name: "b", Run: func(context.Context) Result[int] { return Errf[int]("y") }},
	)
	if !errors.Is(r.Error(), ErrAllFailed) {
		t.Fatalf("want ErrAllFailed, got %v", r.Error())
	}
	if len(trace.Failures()) != 2 {
		t.Fatalf("trace = %v", trace)
	}
}

// --- Slices ---

func TestSliceHelpers(t *testing.T) {
	in := []int{1, 2, 3, 4, 5}
	if got := Map(in, func(v int) int { return v * v }); got[4] != 25 {
		t.Fatalf("Map = %v", got)
	}
	if got := Filter(in, func(v int) bool { return v%2 == 0 }); len(got) != 2 {
		t.Fatalf("Filter = %v", got)
	}
	groups := GroupBy(in, func(v int) bool { return v > 2 })
	if len(groups[true]) != 3 || len(groups[false]) != 2 {
		t.Fatalf("GroupBy = %v", groups)
	}
	chunks := Chunk(in, 2)
	if len(chunks) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("Chunk = %v", chunks)
	}
	if Chunk(in, 0) != nil {
		t.Fatal("Chunk(0) should be nil")
	}
}

func TestUniqueByFirstWins(t *testing.T) {
	type kv struct{ k, v string }
	got := UniqueBy([]kv{{"a", "1"}, {"b", "2"}, {"a", "3"}}, func(x kv) string { return x.k })
	if len(got) != 2 || got[0].v != "1" {
		t.Fatalf("UniqueBy = %v", got)
	}
}
