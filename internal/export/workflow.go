package export

import (
	"context"
	"fmt"
	"math"

	"casewatch/internal/jobstate"
	"casewatch/internal/logging"
	"casewatch/internal/monitor"
	"casewatch/internal/restapi"
	"casewatch/internal/services"
)

// allItems selects every item in the case.
const allItems = "*"

// ItemFailure is an item that could not be tagged.
type ItemFailure struct {
	GUID    string `json:"guid"`
	Message string `json:"message"`
}

// TagSummary describes a tagging run.
type TagSummary struct {
	Date     string        `json:"date"`
	Count    int           `json:"count"`
	Pages    int           `json:"pages"`
	Tagged   int           `json:"tagged"`
	Tags     []string      `json:"tags"`
	Failures []ItemFailure `json:"failures"`
}

// TagForExport tags every item in the case with a per-page export tag. Item
// failures are collected and tagging continues.
func (s *Session) TagForExport(ctx context.Context) (TagSummary, error) {
	date := DateOf(s.opts.Now())
	summary := TagSummary{Date: date.String(), Tags: []string{}, Failures: []ItemFailure{}}

	count, err := s.client.Count(ctx, s.caseID, allItems)
	if err != nil {
		return summary, services.Wrap(services.ErrTransient, "export", "count", "", err)
	}
	summary.Count = count
	if count == 0 {
		s.logger.Info("no items to export")
		return summary, nil
	}

	pageSize := s.opts.Export.PageSize
	summary.Pages = int(math.Ceil(float64(count) / float64(pageSize)))
	sampler := logging.NewProgressSampler(10)
	for page := 1; page <= summary.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("tag for export interrupted at page %d: %w", page, err)
		}
		guids, err := s.client.PagedSearch(ctx, s.caseID, allItems, page, pageSize)
		if err != nil {
			return summary, services.Wrap(services.ErrTransient, "export", "search", fmt.Sprintf("page %d", page), err)
		}
		tag := RenderTag(s.opts.Export.TagFormat, date, page)
		summary.Tags = append(summary.Tags, tag)
		for _, guid := range guids {
			if msg := s.tagItem(ctx, guid, tag); msg != "" {
				summary.Failures = append(summary.Failures, ItemFailure{GUID: guid, Message: msg})
				continue
			}
			summary.Tagged++
		}
		if pct := jobstate.PercentOf(page, summary.Pages); sampler.ShouldLog("tag", pct) {
			s.logger.Info("tagging progress",
				logging.Int("page", page),
				logging.Int("pages", summary.Pages),
				logging.Int("progress", pct),
			)
		}
	}
	if len(summary.Failures) > 0 {
		logging.WarnWithContext(s.logger, "some items were not tagged", "export_tag_failures",
			logging.Int("failed", len(summary.Failures)),
			logging.Int("count", count),
			logging.Impact("untagged items will be missing from the export"),
		)
	}
	return summary, nil
}

func (s *Session) tagItem(ctx context.Context, guid, tag string) string {
	result, err := s.client.AddTag(ctx, s.caseID, "guid:"+guid, tag)
	if err != nil {
		return err.Error()
	}
	if len(result.FailedTags) > 0 {
		return fmt.Sprintf("adding tag %s failed", tag)
	}
	return ""
}

// ExportResult describes one exported page.
type ExportResult struct {
	Tag         string          `json:"tag"`
	Query       string          `json:"query"`
	Count       int             `json:"count"`
	Subfolder   string          `json:"subfolder"`
	FunctionKey string          `json:"function_key"`
	Report      jobstate.Report `json:"-"`
}

// ExportTagged exports the items tagged for page on date and waits for the
// server-side export to finish.
func (s *Session) ExportTagged(ctx context.Context, date TagDate, page int, onProgress func(monitor.Progress)) (ExportResult, error) {
	if page < 1 {
		return ExportResult{}, services.Wrap(services.ErrValidation, "export", "run", fmt.Sprintf("page %d must be positive", page), nil)
	}
	tag := RenderTag(s.opts.Export.TagFormat, date, page)
	result := ExportResult{
		Tag:       tag,
		Query:     TagQuery(s.opts.Export.TagQuery, tag),
		Subfolder: Subfolder(s.opts.Export.Subfolder, page),
	}

	count, err := s.client.Count(ctx, s.caseID, result.Query)
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "export", "count", "", err)
	}
	result.Count = count
	s.logger.Info("starting export",
		logging.String("tag", tag),
		logging.Int("count", count),
		logging.String("subfolder", result.Subfolder),
	)

	fn, err := s.client.StartExport(ctx, s.caseID, restapi.ExportRequest{
		ID:                 result.Subfolder,
		Path:               s.opts.Export.Path,
		ParallelProcessing: restapi.ParallelProcessing{WorkerCount: s.opts.Export.Workers},
		Queries:            []string{result.Query},
	})
	if err != nil {
		return result, services.Wrap(services.ErrExternalTool, "export", "start", "", err)
	}
	result.FunctionKey = fn.FunctionKey

	store := restapi.NewAsyncStore(s.client, fn.FunctionKey, restapi.WithAsyncMaxFailures(s.opts.MaxStatusFailures))
	report, err := monitor.WaitForCompletion(ctx, store, monitor.Options{
		PollInterval: s.opts.PollInterval,
		Timeout:      s.opts.Timeout,
		Dedup:        true,
		OnProgress:   onProgress,
		JobID:        fn.FunctionKey,
		Logger:       s.logger,
		Sampler:      logging.NewProgressSampler(5),
	})
	if err != nil {
		if last := store.Last(); last.Total > 0 {
			return result, fmt.Errorf("wait for export %s (server reported %d/%d): %w", fn.FunctionKey, last.Progress, last.Total, err)
		}
		return result, fmt.Errorf("wait for export %s: %w", fn.FunctionKey, err)
	}
	result.Report = report
	if outcome, ok := report.Lookup(fn.FunctionKey); ok && outcome.Failed() {
		return result, services.Wrap(services.ErrExternalTool, "export", "run", outcome.Message(), nil)
	}
	s.logger.Info("export finished",
		logging.String("tag", tag),
		logging.Int("count", count),
		logging.Function(fn.FunctionKey),
	)
	return result, nil
}

// TagFailure is an export tag that could not be removed from its items.
type TagFailure struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// RemoveSummary describes a tag cleanup run.
type RemoveSummary struct {
	Tags     []string     `json:"tags"`
	Failures []TagFailure `json:"failures"`
}

// RemoveExportTags removes every tag matching the configured format from the
// items carrying it, then deletes the tags from the case. A failure on one tag
// does not stop the others.
func (s *Session) RemoveExportTags(ctx context.Context) (RemoveSummary, error) {
	summary := RemoveSummary{Tags: []string{}, Failures: []TagFailure{}}
	pattern, err := TagPattern(s.opts.Export.TagFormat)
	if err != nil {
		return summary, services.Wrap(services.ErrConfiguration, "export", "untag", "", err)
	}
	tags, err := s.client.ListTags(ctx, s.caseID)
	if err != nil {
		return summary, services.Wrap(services.ErrTransient, "export", "untag", "", err)
	}
	for _, tag := range tags {
		if pattern.MatchString(tag) {
			summary.Tags = append(summary.Tags, tag)
		}
	}
	if len(summary.Tags) == 0 {
		s.logger.Info("no export tags found")
		return summary, nil
	}

	for _, tag := range summary.Tags {
		if err := s.client.RemoveTags(ctx, s.caseID, "tag:"+EscapeTag(tag), []string{tag}); err != nil {
			s.logger.Warn("failed to remove export tag from items",
				logging.String("tag", tag),
				logging.Error(err),
				logging.Event("export_untag_failed"),
				logging.Hint("rerun untag once the service is healthy"),
			)
			summary.Failures = append(summary.Failures, TagFailure{Tag: tag, Message: err.Error()})
		}
	}
	if err := s.client.DeleteTags(ctx, s.caseID, summary.Tags); err != nil {
		return summary, services.Wrap(services.ErrTransient, "export", "untag", "delete tags", err)
	}
	s.logger.Info("export tags removed", logging.Int("tags", len(summary.Tags)), logging.Int("failed", len(summary.Failures)))
	return summary, nil
}
