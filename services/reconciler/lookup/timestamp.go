// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lookup

import (
	"sort"
	"time"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

// TimestampFields are checked in order when ranking documents by recency.
var TimestampFields = []string{"updatedAt", "createdAt", "timestamp"}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e12 ms is September 2001; 1e12 s is far in the future.
const epochMillisThreshold = 1e12

// Timestamp extracts the first recognisable timestamp from doc.
//
// Accepted forms are time.Time, RFC 3339 strings, epoch numbers in seconds
// or milliseconds, and exported Firestore timestamps ({"_seconds": n}).
func Timestamp(doc datatypes.Document) (time.Time, bool) {
	for _, field := range TimestampFields {
		if v, ok := doc[field]; ok {
			if t, ok := parseTime(v); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func parseTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, !val.IsZero()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	case float64:
		return fromEpoch(val), true
	case float32:
		return fromEpoch(float64(val)), true
	case int:
		return fromEpoch(float64(val)), true
	case int32:
		return fromEpoch(float64(val)), true
	case int64:
		return fromEpoch(float64(val)), true
	case map[string]any:
		for _, key := range []string{"_seconds", "seconds"} {
			if secs, ok := val[key]; ok {
				if t, ok := parseTime(secs); ok {
					return t, true
				}
			}
		}
	case datatypes.Document:
		return parseTime(map[string]any(val))
	}
	return time.Time{}, false
}

func fromEpoch(n float64) time.Time {
	if n > epochMillisThreshold {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}

// PickMostRecent returns the document with the latest timestamp.
//
// Documents without a timestamp lose to any dated document. When none are
// dated, or on a tie, the earliest in input order wins. Returns nil for an
// empty input.
func PickMostRecent(docs []datatypes.Document) datatypes.Document {
	if len(docs) == 0 {
		return nil
	}
	best := docs[0]
	bestTime, bestDated := Timestamp(best)
	for _, doc := range docs[1:] {
		t, dated := Timestamp(doc)
		if !dated {
			continue
		}
		if !bestDated || t.After(bestTime) {
			best, bestTime, bestDated = doc, t, true
		}
	}
	return best
}

// SortNewestFirst orders docs by timestamp, newest first, in place.
// Undated documents keep their relative order at the end.
func SortNewestFirst(docs []datatypes.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		ti, di := Timestamp(docs[i])
		tj, dj := Timestamp(docs[j])
		switch {
		case di && dj:
			return ti.After(tj)
		case di:
			return true
		default:
			return false
		}
	})
}
