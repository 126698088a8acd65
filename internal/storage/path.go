package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@-]{0,127}$`)

// BuildExportKey lays exports out by identity and UTC day:
// <prefix>/<identity>/date=YYYY-MM-DD/<queryID>.parquet
func BuildExportKey(prefix, identity, queryID string, createdAt time.Time) (string, error) {
	if err := validateKeyComponent(identity, "identity"); err != nil {
		return "", err
	}
	if err := validateKeyComponent(queryID, "query id"); err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return path.Join(
		prefix,
		identity,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		queryID+".parquet",
	), nil
}

func validateKeyComponent(value, field string) error {
	if !keyComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
