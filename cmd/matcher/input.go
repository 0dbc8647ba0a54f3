package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/referwell/matcher/internal/indexer"
)

// readJSON decodes the JSON document at path into v. A path of "-" reads stdin.
func readJSON(path string, stdin io.Reader, v interface{}) error {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return nil
}

// tally summarises per-candidate reindex outcomes.
func tally(outcomes []*indexer.Outcome, failed int) *indexer.Stats {
	stats := &indexer.Stats{Total: len(outcomes) + failed, Failed: failed}
	for _, out := range outcomes {
		if out.Reused {
			stats.Skipped++
		} else {
			stats.Updated++
		}
	}
	return stats
}
