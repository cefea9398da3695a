package matcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	evidencePattern  = regexp.MustCompile(`Verification images saved to:\s*(.+?)\s*$`)
	bestMatchPattern = regexp.MustCompile(`Best match:\s*([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)`)
	errorLinePattern = regexp.MustCompile(`(?m)^[ \t]*([A-Za-z_][A-Za-z0-9_.]*Error):[ \t]*(.*?)[ \t\r]*$`)
	warningPattern   = regexp.MustCompile(`^(?:\S[^\n]*?:\d+:\s*)?[A-Za-z_][A-Za-z0-9_.]*Warning:`)
)

const tracebackMarker = "Traceback (most recent call last):"

// errNoObject means a chunk held no JSON object at all.
var errNoObject = errors.New("no JSON object in output")

// Payload is the structured result a worker may print on stdout. Each field
// is nil when absent or of the wrong JSON type.
type Payload struct {
	Verified         *bool
	Similarity       *float64
	EpisodeInfo      *string
	VerificationPath *string
}

// ParsePayload decodes the JSON object spanning the first '{' to the last
// '}' in chunk. Fields are decoded one at a time so a mistyped field falls
// back to nil without discarding the rest.
func ParsePayload(chunk string) (*Payload, error) {
	start := strings.Index(chunk, "{")
	end := strings.LastIndex(chunk, "}")
	if start < 0 || end < start {
		return nil, errNoObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(chunk[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("decoding worker JSON: %w", err)
	}

	p := &Payload{}
	var b bool
	if raw, ok := fields["verified"]; ok && json.Unmarshal(raw, &b) == nil {
		p.Verified = &b
	}
	var f float64
	if raw, ok := fields["similarity"]; ok && json.Unmarshal(raw, &f) == nil {
		p.Similarity = &f
	}
	var ep string
	if raw, ok := fields["episode_info"]; ok && json.Unmarshal(raw, &ep) == nil {
		p.EpisodeInfo = &ep
	}
	var vp string
	if raw, ok := fields["verification_path"]; ok && json.Unmarshal(raw, &vp) == nil {
		p.VerificationPath = &vp
	}
	return p, nil
}

// EvidencePath returns the directory announced by a "Verification images
// saved to:" line, or "".
func EvidencePath(line string) string {
	m := evidencePattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return m[1]
}

// Transcript is everything captured from one worker run.
type Transcript struct {
	Stdout       string
	Stderr       string
	Payload      *Payload // last successfully parsed stdout chunk
	EvidencePath string   // last announced evidence directory, either stream
}

// Reduce turns a finished worker run into an Outcome.
func Reduce(file string, exitCode int, t Transcript) Outcome {
	switch exitCode {
	case 0:
		return reduceSuccess(file, t)
	case 1:
		return Outcome{
			VerificationPath: t.EvidencePath,
			Error:            "Verification failed: " + errorText(t, exitCode),
			ExitCode:         1,
		}
	default:
		return Outcome{
			VerificationPath: t.EvidencePath,
			Error:            fmt.Sprintf("Process exited with code %d: %s", exitCode, errorText(t, exitCode)),
			ExitCode:         exitCode,
		}
	}
}

func reduceSuccess(file string, t Transcript) Outcome {
	p := t.Payload
	if p == nil {
		// Covers a pretty-printed object that no single line could hold.
		p, _ = ParsePayload(t.Stdout)
	}

	out := Outcome{
		Success:          true,
		Episode:          filepath.Base(file),
		VerificationPath: t.EvidencePath,
	}

	if p == nil {
		out.Verified = true
		if m := bestMatchPattern.FindAllStringSubmatch(t.Stdout, -1); m != nil {
			if score, err := strconv.ParseFloat(m[len(m)-1][1], 64); err == nil {
				out.MatchScore = score
			}
		}
		return out
	}

	out.Verified = p.Verified != nil && *p.Verified
	if p.Similarity != nil {
		out.MatchScore = *p.Similarity
	}
	if p.EpisodeInfo != nil {
		out.Episode = *p.EpisodeInfo
	}
	if out.VerificationPath == "" && p.VerificationPath != nil {
		out.VerificationPath = *p.VerificationPath
	}
	return out
}

func errorText(t Transcript, exitCode int) string {
	if s := strings.TrimSpace(t.Stderr); s != "" {
		return ExtractError(s)
	}
	if s := strings.TrimSpace(t.Stdout); s != "" {
		return s
	}
	return fmt.Sprintf("Process exited with code %d without output.", exitCode)
}

// ExtractError reduces worker stderr to the most useful single message:
// the last "<Name>Error: msg" line of the final traceback, else the last
// such line anywhere, else the whole text. A leading block of warnings is
// removed from the result.
func ExtractError(stderr string) string {
	if idx := strings.LastIndex(stderr, tracebackMarker); idx >= 0 {
		if line := lastErrorLine(stderr[idx:]); line != "" {
			return line
		}
	}
	if line := lastErrorLine(stderr); line != "" {
		return line
	}
	return stripWarnings(strings.TrimSpace(stderr))
}

func lastErrorLine(s string) string {
	matches := errorLinePattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return ""
	}
	m := matches[len(matches)-1]
	if m[2] == "" {
		return m[1] + ":"
	}
	return m[1] + ": " + m[2]
}

// stripWarnings drops leading warning lines and their indented
// continuations. Text made only of warnings is returned unchanged.
func stripWarnings(s string) string {
	lines := strings.Split(s, "\n")
	i := 0
	for i < len(lines) && inWarningBlock(lines[i], i == 0) {
		i++
	}
	if i == 0 {
		return s
	}
	rest := strings.TrimSpace(strings.Join(lines[i:], "\n"))
	if rest == "" {
		return s
	}
	return rest
}

func inWarningBlock(line string, first bool) bool {
	if warningPattern.MatchString(line) {
		return true
	}
	if first {
		return false
	}
	return strings.TrimSpace(line) == "" ||
		strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}
