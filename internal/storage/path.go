package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

// FeedArchivePrefix is the key prefix every uploaded feed archive lives under.
const FeedArchivePrefix = "feeds"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildFeedArchivePath returns feeds/date=YYYY-MM-DD/<runID>.zip for an
// ingestion run started at receivedAt.
func BuildFeedArchivePath(runID string, receivedAt time.Time) (string, error) {
	if err := validatePathComponent(runID, "run id"); err != nil {
		return "", err
	}
	ts := receivedAt.UTC()
	return path.Join(
		FeedArchivePrefix,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		runID+".zip",
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
