package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/adapters/spotify"
	"github.com/ewilliams-labs/pulselight/internal/adapters/sqlite"
	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/services"
)

const histogramBuckets = 5

var (
	analysisList    bool
	analysisLimit   int
	analysisRefresh bool
)

var analysisCmd = &cobra.Command{
	Use:   "analysis [track-id]",
	Short: "Show how a track's analysis maps onto light commands",
	Args: func(cmd *cobra.Command, args []string) error {
		if analysisList {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := sqlite.NewAdapter(cfg.DBPath)
		if err != nil {
			return err
		}
		defer repo.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if analysisList {
			rows, err := repo.ListAnalyses(ctx, analysisLimit)
			if err != nil {
				return err
			}
			return printCached(cmd.OutOrStdout(), rows)
		}

		a, err := loadAnalysis(ctx, repo, args[0])
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), summarize(a, engineConfig(cfg)))
	},
}

func init() {
	analysisCmd.Flags().BoolVar(&analysisList, "list", false, "list cached analyses instead")
	analysisCmd.Flags().IntVar(&analysisLimit, "limit", 20, "rows to show with --list")
	analysisCmd.Flags().BoolVar(&analysisRefresh, "refresh", false, "ignore the cache and fetch from Spotify")
	rootCmd.AddCommand(analysisCmd)
}

// loadAnalysis reads through the cache, fetching from Spotify on a miss.
func loadAnalysis(ctx context.Context, repo *sqlite.Adapter, trackID string) (domain.AudioAnalysis, error) {
	if !analysisRefresh {
		a, err := repo.GetAnalysis(ctx, trackID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.AudioAnalysis{}, err
		}
	}
	if err := cfg.RequireSpotify(); err != nil {
		return domain.AudioAnalysis{}, err
	}
	client := spotify.NewOAuthClient(ctx,
		spotify.OAuthConfig(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.SpotifyRedirectURL),
		cfg.SpotifyRefreshToken,
		cfg.SpotifyAPIURL,
		spotify.WithRetry(cfg.SpotifyMaxRetries, cfg.SpotifyRetryBackoff),
		spotify.WithLogger(log),
	)
	a, err := client.AudioAnalysis(ctx, trackID)
	if err != nil {
		return domain.AudioAnalysis{}, err
	}
	if err := repo.SaveAnalysis(ctx, a); err != nil {
		log.Warn("failed to cache analysis", zap.String("track_id", trackID), zap.Error(err))
	}
	return a, nil
}

// bucket counts merged segments whose brightness falls in [Lo, Hi].
type bucket struct {
	Lo, Hi int
	Count  int
}

type analysisSummary struct {
	TrackID        string
	Duration       float64
	Tempo          float64
	Segments       int
	MergedSegments int
	Sections       int
	Bars           int
	ConfidentBars  int
	Beats          int
	LoudnessLo     float64
	LoudnessHi     float64
	Brightness     []bucket
}

// summarize applies the engine's preprocessing to a and reports what the
// engine would work with.
func summarize(a domain.AudioAnalysis, ec services.EngineConfig) analysisSummary {
	minDur := ec.MergeMinDuration.Seconds()
	var merged []domain.TimedItem
	if ec.MergeRecursive {
		merged = domain.MergeShortItemsRecursive(a.Segments, minDur)
	} else {
		merged = domain.MergeShortItems(a.Segments, minDur)
	}
	mapper := domain.NewLoudnessMapper(merged, ec.BrightnessMin, ec.BrightnessMax, ec.ClipSigma)
	lo, hi := mapper.Range()

	s := analysisSummary{
		TrackID:        a.TrackID,
		Duration:       a.Duration,
		Tempo:          a.Tempo,
		Segments:       len(a.Segments),
		MergedSegments: len(merged),
		Sections:       len(a.Sections),
		Bars:           len(a.Bars),
		Beats:          len(a.Beats),
		LoudnessLo:     lo,
		LoudnessHi:     hi,
		Brightness:     brightnessBuckets(ec.BrightnessMin, ec.BrightnessMax),
	}
	for _, b := range a.Bars {
		if b.Confidence >= ec.BarConfidence {
			s.ConfidentBars++
		}
	}
	for _, seg := range merged {
		v := mapper.Brightness(seg.LoudnessStart)
		for i := range s.Brightness {
			if v >= s.Brightness[i].Lo && v <= s.Brightness[i].Hi {
				s.Brightness[i].Count++
				break
			}
		}
	}
	return s
}

func brightnessBuckets(lowest, highest int) []bucket {
	if highest < lowest {
		lowest, highest = highest, lowest
	}
	span := highest - lowest + 1
	n := histogramBuckets
	if span < n {
		n = span
	}
	width := (span + n - 1) / n
	out := make([]bucket, 0, n)
	for lo := lowest; lo <= highest; lo += width {
		hi := lo + width - 1
		if hi > highest {
			hi = highest
		}
		out = append(out, bucket{Lo: lo, Hi: hi})
	}
	return out
}

func printSummary(w io.Writer, s analysisSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "track\t%s\n", s.TrackID)
	fmt.Fprintf(tw, "duration\t%.1fs\n", s.Duration)
	fmt.Fprintf(tw, "tempo\t%.1f bpm\n", s.Tempo)
	fmt.Fprintf(tw, "segments\t%d (%d after merge)\n", s.Segments, s.MergedSegments)
	fmt.Fprintf(tw, "sections\t%d\n", s.Sections)
	fmt.Fprintf(tw, "bars\t%d (%d confident)\n", s.Bars, s.ConfidentBars)
	fmt.Fprintf(tw, "beats\t%d\n", s.Beats)
	fmt.Fprintf(tw, "loudness\t%.3f .. %.3f (linear, clipped)\n", s.LoudnessLo, s.LoudnessHi)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nbrightness distribution")
	total := 0
	for _, b := range s.Brightness {
		total += b.Count
	}
	for _, b := range s.Brightness {
		bar := 0
		if total > 0 {
			bar = b.Count * 40 / total
		}
		fmt.Fprintf(w, "%3d-%-3d %5d %s\n", b.Lo, b.Hi, b.Count, strings.Repeat("#", bar))
	}
	return nil
}

func printCached(w io.Writer, rows []sqlite.CachedAnalysis) error {
	if len(rows) == 0 {
		fmt.Fprintln(w, "cache is empty")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tDURATION\tTEMPO\tSEGMENTS\tFETCHED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%.1fs\t%.1f\t%d\t%s\n", r.TrackID, r.Duration, r.Tempo, r.Segments, r.FetchedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
