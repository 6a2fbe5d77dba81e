package media

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCaps builds a descriptor from a caps string such as
// "video/x-raw,format=I420,width=640,height=480,framerate=30/1" or
// "audio/x-raw,rate=44100,channels=1". Missing framerate defaults to 30/1.
func ParseCaps(caps string) (*Format, error) {
	parts := strings.Split(strings.TrimSpace(caps), ",")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("empty caps")
	}

	fields := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			return nil, fmt.Errorf("malformed caps field %q", p)
		}
		// Drop optional type annotations like (int) or (string).
		if i := strings.Index(value, ")"); strings.HasPrefix(value, "(") && i > 0 {
			value = value[i+1:]
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	switch strings.TrimSpace(parts[0]) {
	case "audio/x-raw":
		if f, ok := fields["format"]; ok && !strings.EqualFold(f, SampleFormatS16LE) && !strings.EqualFold(f, "S16") {
			return nil, fmt.Errorf("unsupported sample format %q", f)
		}
		rate, err := intField(fields, "rate", 0)
		if err != nil {
			return nil, err
		}
		channels, err := intField(fields, "channels", 1)
		if err != nil {
			return nil, err
		}
		return NewAudioFormat(rate, channels)

	case "video/x-raw":
		pixel, err := ParsePixelFormat(fields["format"])
		if err != nil {
			return nil, err
		}
		width, err := intField(fields, "width", 0)
		if err != nil {
			return nil, err
		}
		height, err := intField(fields, "height", 0)
		if err != nil {
			return nil, err
		}
		num, den := 30, 1
		if fr, ok := fields["framerate"]; ok {
			if num, den, err = parseFraction(fr); err != nil {
				return nil, err
			}
		}
		return NewVideoFormat(pixel, width, height, num, den)

	default:
		return nil, fmt.Errorf("unsupported media type %q", parts[0])
	}
}

func intField(fields map[string]string, key string, def int) (int, error) {
	s, ok := fields[key]
	if !ok {
		if def == 0 {
			return 0, fmt.Errorf("caps missing %q", key)
		}
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("caps field %q: %w", key, err)
	}
	return v, nil
}

func parseFraction(s string) (int, int, error) {
	numStr, denStr, ok := strings.Cut(s, "/")
	if !ok {
		denStr = "1"
	}
	num, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, 0, fmt.Errorf("framerate %q: %w", s, err)
	}
	den, err := strconv.Atoi(denStr)
	if err != nil {
		return 0, 0, fmt.Errorf("framerate %q: %w", s, err)
	}
	return num, den, nil
}
