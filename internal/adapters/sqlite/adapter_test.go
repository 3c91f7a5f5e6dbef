package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
)

func sampleAnalysis(trackID string) domain.AudioAnalysis {
	seg := domain.TimedItem{Start: 0, Duration: 0.4, Confidence: 0.7}
	seg.LoudnessStart = -12
	seg.LoudnessMax = -6
	seg.Pitches = []float64{0.1, 0.9}
	return domain.AudioAnalysis{
		TrackID:  trackID,
		Duration: 200,
		Tempo:    128,
		Segments: []domain.TimedItem{seg},
		Bars:     []domain.TimedItem{{Start: 0, Duration: 1.9, Confidence: 0.8}},
	}
}

func TestAdapter_GetAnalysis(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, a *Adapter) string
		wantErr error
		wantSeg int
	}{
		{
			name: "not found",
			setup: func(t *testing.T, a *Adapter) string {
				return "missing"
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "round trips payload",
			setup: func(t *testing.T, a *Adapter) string {
				if err := a.SaveAnalysis(context.Background(), sampleAnalysis("t1")); err != nil {
					t.Fatalf("save analysis: %v", err)
				}
				return "t1"
			},
			wantSeg: 1,
		},
		{
			name: "upsert replaces payload",
			setup: func(t *testing.T, a *Adapter) string {
				ctx := context.Background()
				first := sampleAnalysis("t2")
				if err := a.SaveAnalysis(ctx, first); err != nil {
					t.Fatalf("save analysis: %v", err)
				}
				second := sampleAnalysis("t2")
				second.Segments = append(second.Segments, domain.TimedItem{Start: 0.4, Duration: 0.5})
				if err := a.SaveAnalysis(ctx, second); err != nil {
					t.Fatalf("save analysis again: %v", err)
				}
				return "t2"
			},
			wantSeg: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAdapter(":memory:")
			if err != nil {
				t.Fatalf("new adapter: %v", err)
			}
			defer a.Close()

			trackID := tt.setup(t, a)
			got, err := a.GetAnalysis(context.Background(), trackID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.TrackID != trackID || got.Tempo != 128 {
				t.Fatalf("header: got %+v", got)
			}
			if len(got.Segments) != tt.wantSeg {
				t.Fatalf("segments: got %d, want %d", len(got.Segments), tt.wantSeg)
			}
			seg := got.Segments[0]
			if seg.LoudnessMax != -6 || len(seg.Pitches) != 2 {
				t.Fatalf("segment fields not preserved: %+v", seg)
			}
		})
	}
}

func TestAdapter_SaveAnalysisRequiresTrackID(t *testing.T) {
	a, err := NewAdapter(":memory:")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	defer a.Close()

	if err := a.SaveAnalysis(context.Background(), domain.AudioAnalysis{}); !errors.Is(err, domain.ErrMissingTrackID) {
		t.Fatalf("got %v, want ErrMissingTrackID", err)
	}
}

func TestAdapter_ListAndDelete(t *testing.T) {
	a, err := NewAdapter(":memory:")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		stamp := base.Add(time.Duration(i) * time.Hour)
		a.now = func() time.Time { return stamp }
		if err := a.SaveAnalysis(ctx, sampleAnalysis(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	list, err := a.ListAnalyses(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].TrackID != "new" || list[1].TrackID != "old" {
		t.Fatalf("list order: got %+v", list)
	}
	if list[0].Segments != 1 || list[0].Duration != 200 {
		t.Fatalf("summary columns: got %+v", list[0])
	}

	if err := a.DeleteAnalysis(ctx, "old"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := a.GetAnalysis(ctx, "old"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("after delete: got %v, want ErrNotFound", err)
	}
}

func TestAdapter_MigrateIsIdempotent(t *testing.T) {
	a, err := NewAdapter(":memory:")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	defer a.Close()

	if err := a.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
