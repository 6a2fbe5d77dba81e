package ffmpeg

import (
	"fmt"
	"strings"
)

// OptionType represents a strongly typed FFmpeg option
type OptionType string

// FFmpeg option constants
const (
	OptionOverwrite    OptionType = "overwrite"
	OptionRealtime     OptionType = "realtime"
	OptionGoodQuality  OptionType = "good_quality"
	OptionFlushPackets OptionType = "flush_packets"
	OptionThreads      OptionType = "threads_auto"
)

// Base returns the ffmpeg flags every command starts with. Output is logged
// with level prefixes so ParseLogLevel can map it.
func Base() string {
	return "-hide_banner -loglevel level+info -nostdin"
}

// OptionCategory represents option categories
type OptionCategory string

const (
	CategoryOutput      OptionCategory = "Output"
	CategoryQuality     OptionCategory = "Quality"
	CategoryPerformance OptionCategory = "Performance"
)

// ExclusiveGroup represents a group of mutually exclusive options
type ExclusiveGroup string

const (
	GroupDeadline ExclusiveGroup = "deadline"
)

// Option describes an encode flag with metadata.
type Option struct {
	Key            OptionType      `json:"key"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       OptionCategory  `json:"category"`
	AppDefault     bool            `json:"app_default"`
	Args           string          `json:"args"`
	ExclusiveGroup *ExclusiveGroup `json:"exclusive_group,omitempty"`
}

func groupPtr(g ExclusiveGroup) *ExclusiveGroup { return &g }

// AllOptions contains all available encode flags.
var AllOptions = []Option{
	{
		Key:         OptionOverwrite,
		Name:        "Overwrite Output",
		Description: "Replace an existing output file",
		Category:    CategoryOutput,
		AppDefault:  true,
		Args:        "-y",
	},
	{
		Key:         OptionFlushPackets,
		Name:        "Flush Packets",
		Description: "Write packets as soon as they are muxed",
		Category:    CategoryOutput,
		Args:        "-flush_packets 1",
	},
	{
		Key:            OptionRealtime,
		Name:           "Realtime Deadline",
		Description:    "Fastest libvpx deadline, keeps up with live production",
		Category:       CategoryPerformance,
		AppDefault:     true,
		Args:           "-deadline realtime -cpu-used 8",
		ExclusiveGroup: groupPtr(GroupDeadline),
	},
	{
		Key:            OptionGoodQuality,
		Name:           "Good Quality Deadline",
		Description:    "Slower libvpx deadline with better compression",
		Category:       CategoryQuality,
		Args:           "-deadline good",
		ExclusiveGroup: groupPtr(GroupDeadline),
	},
	{
		Key:         OptionThreads,
		Name:        "Automatic Threads",
		Description: "Let the encoder pick its thread count",
		Category:    CategoryPerformance,
		Args:        "-threads 0",
	},
}

// GetOptionByKey returns the option with the given key, or nil.
func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// ValidateOptions rejects unknown keys and more than one option from the
// same exclusive group.
func ValidateOptions(selected []OptionType) error {
	groups := make(map[ExclusiveGroup]OptionType)
	for _, key := range selected {
		opt := GetOptionByKey(key)
		if opt == nil {
			return fmt.Errorf("unknown ffmpeg option %q", key)
		}
		if opt.ExclusiveGroup == nil {
			continue
		}
		if other, exists := groups[*opt.ExclusiveGroup]; exists {
			return fmt.Errorf("options %q and %q are mutually exclusive (%s)", other, key, *opt.ExclusiveGroup)
		}
		groups[*opt.ExclusiveGroup] = key
	}
	return nil
}

// GetDefaultOptions returns the options enabled by default.
func GetDefaultOptions() []OptionType {
	var defaults []OptionType
	for _, opt := range AllOptions {
		if opt.AppDefault {
			defaults = append(defaults, opt.Key)
		}
	}
	return defaults
}

// ParseOptions converts option names from configuration.
func ParseOptions(names []string) ([]OptionType, error) {
	opts := make([]OptionType, 0, len(names))
	for _, name := range names {
		opts = append(opts, OptionType(strings.TrimSpace(name)))
	}
	if err := ValidateOptions(opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// applyOptions appends the arguments of the selected options. Deadline
// options only apply to libvpx encoders.
func applyOptions(options []OptionType, codec string, cmd *strings.Builder) {
	for _, key := range options {
		opt := GetOptionByKey(key)
		if opt == nil {
			continue
		}
		if opt.ExclusiveGroup != nil && *opt.ExclusiveGroup == GroupDeadline && !strings.HasPrefix(codec, "libvpx") {
			continue
		}
		cmd.WriteString(" " + opt.Args)
	}
}
