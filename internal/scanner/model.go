package scanner

import (
	"errors"
	"time"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/result"
)

// Rejections returned by Start and Stop.
var (
	ErrScanInProgress       = errors.New("scan already in progress")
	ErrNoScanRunning        = errors.New("no scan is running")
	ErrStopAlreadyRequested = errors.New("stop already requested")
	ErrServiceClosed        = errors.New("scan service closed")
)

// LatestMatch describes the most recent successful verification.
// Timestamp is refreshed every time the snapshot is handed out.
type LatestMatch struct {
	FilePath              string    `json:"file_path"`
	LibraryID             string    `json:"library_id,omitempty"`
	Episode               string    `json:"episode_info,omitempty"`
	MatchScore            float64   `json:"match_score"`
	IsVerified            bool      `json:"is_verified"`
	VerificationImagePath *string   `json:"verification_image_path"`
	ScannedAt             int64     `json:"last_scanned_time"`
	Timestamp             time.Time `json:"timestamp"`
}

func latestFromRecord(r *result.Record) *LatestMatch {
	m := &LatestMatch{
		FilePath:   r.FilePath,
		LibraryID:  r.LibraryID,
		MatchScore: r.MatchScore,
		IsVerified: r.IsVerified,
		ScannedAt:  r.LastScannedTime,
	}
	if r.EpisodeInfo != nil {
		m.Episode = *r.EpisodeInfo
	}
	if r.VerificationImagePath != nil {
		p := *r.VerificationImagePath
		m.VerificationImagePath = &p
	}
	return m
}

// State is the live progress of the scan service. Values returned by
// Service methods are copies.
type State struct {
	ScanID         string       `json:"scan_id,omitempty"`
	IsScanning     bool         `json:"is_scanning"`
	StopRequested  bool         `json:"stop_requested"`
	TotalFiles     int          `json:"total_files"`
	ProcessedFiles int          `json:"processed_files"`
	CurrentFile    string       `json:"current_file"`
	StartTime      *time.Time   `json:"start_time"`
	Errors         []string     `json:"errors"`
	LatestMatch    *LatestMatch `json:"latest_match"`
}

func (s *State) clone() State {
	c := *s
	c.Errors = append(make([]string, 0, len(s.Errors)), s.Errors...)
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	if s.LatestMatch != nil {
		m := *s.LatestMatch
		if m.VerificationImagePath != nil {
			p := *m.VerificationImagePath
			m.VerificationImagePath = &p
		}
		c.LatestMatch = &m
	}
	return c
}
