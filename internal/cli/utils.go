// Package cli provides output formatting for the callmind command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; anything else is an error.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

const rule = "─────────────────────────────────────────────────────────\n"

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results for %q in %dms (%s)\n\n", response.Total, response.Query, response.QueryTime, response.Mode)
	for _, r := range response.Results {
		fmt.Fprint(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f", r.Rank, r.Score)
		if response.Mode == models.ModeHybrid {
			fmt.Fprintf(w, " (Keyword: %.4f, Semantic: %.4f)", r.KeywordScore, r.SemanticScore)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Call: %s\n", r.DocID)
		writeParties(w, r.Metadata.FromNumber, r.Metadata.ToNumber)
		if !r.Metadata.Timestamp.IsZero() {
			fmt.Fprintf(w, "At: %s\n", r.Metadata.Timestamp.Format("2006-01-02 15:04:05 MST"))
		}
		text := r.Excerpt
		if text == "" {
			text = utils.Truncate(r.Text, 200)
		}
		fmt.Fprintf(w, "\n%s\n\n", text)
	}
	return nil
}

// WriteCalls writes a call record listing.
func WriteCalls(w io.Writer, recs []*models.CallRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"calls": recs, "count": len(recs)})
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No calls.")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%-36s %-12s %s  %s\n", r.CallID, r.Status,
			r.UpdatedAt.Format("2006-01-02 15:04:05"), TruncateWords(r.TranscriptText, 12))
	}
	return nil
}

// WriteCall writes one call record in full.
func WriteCall(w io.Writer, rec *models.CallRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rec)
	}
	fmt.Fprintf(w, "Call:    %s\n", rec.CallID)
	fmt.Fprintf(w, "Status:  %s\n", rec.Status)
	if rec.FailureReason != "" {
		fmt.Fprintf(w, "Reason:  %s\n", rec.FailureReason)
	}
	writeParties(w, rec.FromNumber, rec.ToNumber)
	if rec.RecordingURL != "" {
		fmt.Fprintf(w, "Recording: %s\n", rec.RecordingURL)
	}
	fmt.Fprintf(w, "Created: %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Updated: %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	if rec.TranscriptText != "" {
		fmt.Fprintf(w, "\n%s\n", rec.TranscriptText)
	}
	return nil
}

// WriteStatusCounts writes record counts per status in lifecycle order.
func WriteStatusCounts(w io.Writer, counts map[models.Status]int64) {
	order := []models.Status{
		models.StatusRinging, models.StatusRecording, models.StatusRecorded,
		models.StatusTranscribed, models.StatusIndexed, models.StatusFailed,
	}
	var extra []string
	for st := range counts {
		if !st.Valid() {
			extra = append(extra, string(st))
		}
	}
	sort.Strings(extra)
	for _, s := range extra {
		order = append(order, models.Status(s))
	}
	for _, st := range order {
		fmt.Fprintf(w, "  %-12s %d\n", st, counts[st])
	}
}

func writeParties(w io.Writer, from, to string) {
	if from == "" && to == "" {
		return
	}
	fmt.Fprintf(w, "From: %s  To: %s\n", orDash(utils.MaskNumber(from)), orDash(utils.MaskNumber(to)))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
