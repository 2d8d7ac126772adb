package schedule

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/errors"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestNewRejectsBadInput(t *testing.T) {
	noop := func(ctx context.Context, c model.Category, p model.Period) {}

	_, err := New("not a cron spec", []model.Category{model.CategoryGreen}, noop, quietLogger())
	if err == nil {
		t.Fatal("expected error for bad cron expression")
	}
	if !errors.IsCode(err, errors.CodeBadConfig) {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.CodeBadConfig)
	}

	_, err = New("0 3 * * *", nil, noop, quietLogger())
	if err == nil {
		t.Fatal("expected error for empty dataset list")
	}
}

func TestFireIngestsCurrentPeriodPerCategory(t *testing.T) {
	var mu sync.Mutex
	type call struct {
		category model.Category
		period   model.Period
	}
	var calls []call

	s, err := New("0 3 * * *",
		[]model.Category{model.CategoryYellow, model.CategoryGreen},
		func(ctx context.Context, c model.Category, p model.Period) {
			mu.Lock()
			calls = append(calls, call{c, p})
			mu.Unlock()
		}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time {
		return time.Date(2019, 7, 14, 3, 0, 0, 0, time.UTC)
	}

	s.fire(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("got %d ingest calls, want 2", len(calls))
	}
	want := model.Period{Year: 2019, Month: 7}
	for _, c := range calls {
		if c.period != want {
			t.Errorf("category %s ingested period %s, want %s", c.category, c.period, want)
		}
	}
	if calls[0].category != model.CategoryYellow || calls[1].category != model.CategoryGreen {
		t.Errorf("categories = %v", calls)
	}
}

func TestFireSkipsCanceledContext(t *testing.T) {
	fired := false
	s, err := New("@hourly", []model.Category{model.CategoryGreen},
		func(ctx context.Context, c model.Category, p model.Period) { fired = true },
		quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.fire(ctx)

	if fired {
		t.Error("ingest fired on a canceled context")
	}
}
