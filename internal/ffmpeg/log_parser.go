package ffmpeg

import "strings"

// ParseLogLevel splits a line of ffmpeg stderr, produced with
// -loglevel level+..., into its level and message. Both "[level] msg" and
// "[component @ 0x...] [level] msg" are recognised; the component prefix
// is kept in the message. Periodic "frame= ... fps= ..." progress lines
// are reported as debug. Anything else is info.
func ParseLogLevel(line string) (level, msg string) {
	if isProgress(line) {
		return "debug", line
	}

	first, rest, ok := bracketPrefix(line)
	if !ok {
		return "info", line
	}
	if isLogLevel(first) {
		return first, rest
	}

	if second, tail, ok := bracketPrefix(rest); ok && isLogLevel(second) {
		return second, line[:len(line)-len(rest)] + tail
	}
	return "info", line
}

// bracketPrefix splits "[inner] rest".
func bracketPrefix(s string) (inner, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	inner, rest, ok = strings.Cut(s[1:], "] ")
	if !ok {
		return "", s, false
	}
	return inner, rest, true
}

func isProgress(line string) bool {
	return strings.HasPrefix(line, "frame=") && strings.Contains(line, "fps=") ||
		strings.HasPrefix(line, "size=") && strings.Contains(line, "time=")
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
