// Package auditor verifies every subject chain held by a block store.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/liftedinit/credledger/internal/config"
	"github.com/liftedinit/credledger/internal/ledger"
	"github.com/liftedinit/credledger/internal/models"
)

var ErrBrokenChain = errors.New("auditor: broken chain")

// BrokenChain is a subject whose chain failed verification.
type BrokenChain struct {
	Subject  models.Subject `json:"subject"`
	BrokenAt uint64         `json:"brokenAt"`
}

type Report struct {
	Subjects int           `json:"subjects"`
	Blocks   int           `json:"blocks"`
	Broken   []BrokenChain `json:"broken"`
}

func (r Report) Valid() bool {
	return len(r.Broken) == 0
}

// Audit verifies the chain of every subject in store.
// With cfg.FailFast the audit stops at the first broken chain and returns ErrBrokenChain.
func Audit(ctx context.Context, store ledger.Backend, cfg config.AuditConfig, showProgress bool) (Report, error) {
	subjects, err := store.Subjects(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list subjects: %w", err)
	}
	slog.Info("Auditing block chains", "subjects", len(subjects))

	var bar *progressbar.ProgressBar
	if showProgress && len(subjects) > 1 {
		bar = progressbar.NewOptions(
			len(subjects),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetDescription("Verifying chains..."),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		if err := bar.RenderBlank(); err != nil {
			return Report{}, fmt.Errorf("failed to render progress bar: %w", err)
		}
	}

	report, err := verifySubjects(ctx, store, subjects, cfg, bar)
	if err != nil {
		return report, err
	}

	if bar != nil {
		if err := bar.Finish(); err != nil {
			return report, fmt.Errorf("failed to finish progress bar: %w", err)
		}
	}

	return report, nil
}

// verifySubjects verifies subjects in parallel, at most cfg.MaxConcurrency at a time.
func verifySubjects(ctx context.Context, store ledger.Store, subjects []models.Subject, cfg config.AuditConfig, bar *progressbar.ProgressBar) (Report, error) {
	verifier := ledger.NewVerifier(store)
	eg, egCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, cfg.MaxConcurrency)

	var (
		mu     sync.Mutex
		report = Report{Subjects: len(subjects), Broken: []BrokenChain{}}
	)

	for _, subject := range subjects {
		if egCtx.Err() != nil {
			break
		}

		sem <- struct{}{}
		eg.Go(func() error {
			defer func() { <-sem }()

			result, err := verifier.VerifyChain(egCtx, subject)
			if err != nil {
				return fmt.Errorf("failed to verify %s: %w", subject, err)
			}

			mu.Lock()
			report.Blocks += result.Length
			if !result.Valid {
				report.Broken = append(report.Broken, BrokenChain{Subject: subject, BrokenAt: *result.BrokenAt})
			}
			mu.Unlock()

			if !result.Valid {
				slog.Warn("Broken block chain", "subject", subject.String(), "brokenAt", *result.BrokenAt)
				if cfg.FailFast {
					return fmt.Errorf("%w: %s at index %d", ErrBrokenChain, subject, *result.BrokenAt)
				}
			}

			if bar != nil {
				if err := bar.Add(1); err != nil {
					slog.Warn("Failed to update progress bar", "error", err)
				}
			}
			return nil
		})
	}

	err := eg.Wait()
	sort.Slice(report.Broken, func(i, j int) bool {
		return report.Broken[i].BrokenAt < report.Broken[j].BrokenAt
	})
	if err != nil {
		return report, err
	}
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}
