package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("result not found")

// ErrorLabelPrefix marks a label that carries a failure message instead of
// an episode name.
const ErrorLabelPrefix = "Error: "

// Record is the persisted outcome of verifying one file. FilePath is unique.
// Times are Unix milliseconds.
type Record struct {
	ID                    int64   `json:"id"`
	LibraryID             string  `json:"library_id"`
	FilePath              string  `json:"file_path"`
	FileModifiedTime      int64   `json:"file_modified_time"`
	LastScannedTime       int64   `json:"last_scanned_time"`
	VerificationImagePath *string `json:"verification_image_path"`
	MatchScore            float64 `json:"match_score"`
	IsVerified            bool    `json:"is_verified"`
	EpisodeInfo           *string `json:"episode_info"`
}

// Failed reports whether the label holds an error message.
func (r *Record) Failed() bool {
	return r.EpisodeInfo != nil && len(*r.EpisodeInfo) >= len(ErrorLabelPrefix) &&
		(*r.EpisodeInfo)[:len(ErrorLabelPrefix)] == ErrorLabelPrefix
}

// ScannedAt converts LastScannedTime to a time.Time.
func (r *Record) ScannedAt() time.Time {
	return time.UnixMilli(r.LastScannedTime)
}

// SanitizeValue converts v into something the SQL driver stores faithfully:
// nil stays nil, booleans become 1/0, non-finite floats become nil, nil
// pointers become nil and other pointers are dereferenced, composite values
// (maps, slices, arrays, structs) become their JSON text. Everything else
// is returned unchanged.
func SanitizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return x
	case string, []byte, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return SanitizeValue(rv.Elem().Interface())
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		return serialize(v)
	case reflect.Array, reflect.Struct:
		return serialize(v)
	}
	return v
}

func serialize(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
