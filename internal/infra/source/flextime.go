package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// unixMillisThreshold separates second and millisecond epoch values:
// anything below it (2000-01-01 in milliseconds) is read as seconds.
const unixMillisThreshold = 946684800000

// flexTime decodes the timestamp shapes the game backend emits: RFC3339
// strings, unix seconds or milliseconds, and Firestore
// {"seconds": n, "nanoseconds": n} objects. Null, empty and unrecognized
// values decode to the zero time so one bad record never fails a response.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		f.Time = time.Time{}
		return nil
	}

	f.Time, _ = decodeTime(data)
	return nil
}

func decodeTime(data []byte) (time.Time, error) {
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return time.Time{}, err
		}
		return parseTimeString(s)

	case '{':
		var ts struct {
			Seconds     int64 `json:"seconds"`
			Nanoseconds int64 `json:"nanoseconds"`
			// Some serializers keep the underscore-prefixed Firestore names.
			USeconds     int64 `json:"_seconds"`
			UNanoseconds int64 `json:"_nanoseconds"`
		}
		if err := json.Unmarshal(data, &ts); err != nil {
			return time.Time{}, err
		}
		if ts.Seconds == 0 && ts.USeconds != 0 {
			ts.Seconds, ts.Nanoseconds = ts.USeconds, ts.UNanoseconds
		}
		return time.Unix(ts.Seconds, ts.Nanoseconds).UTC(), nil

	default:
		n, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %s", data)
		}
		return fromEpoch(n), nil
	}
}

func fromEpoch(n float64) time.Time {
	if n < unixMillisThreshold {
		return time.Unix(int64(n), 0).UTC()
	}
	return time.UnixMilli(int64(n)).UTC()
}

func parseTimeString(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(n), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// flexID decodes ids that arrive as either JSON strings or numbers. Any
// other shape decodes to the empty id and the record is skipped.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		*f = ""
		return nil
	}
	*f = flexID(n.String())
	return nil
}
