package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/feednode/internal/media"
)

// CreateLayoutCmd creates the layout command.
func CreateLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout <caps>",
		Short: "Print the memory layout of a caps string",
		Long: `Parses a caps string such as "video/x-raw,format=I420,width=640,height=480,framerate=30/1" ` +
			`and prints the plane offsets, strides and frame size the feed would produce for it.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f, err := media.ParseCaps(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid caps: %v\n", err)
				os.Exit(1)
			}
			printLayout(cmd.OutOrStdout(), f)
		},
	}
}

func printLayout(w io.Writer, f *media.Format) {
	fmt.Fprintf(w, "caps: %s\n", f.Caps())
	num, den := f.UnitRate()

	if f.IsAudio() {
		fmt.Fprintf(w, "rate: %d Hz, %d channels, %s\n", f.Rate(), f.Channels(), media.SampleFormatS16LE)
		fmt.Fprintf(w, "sample frame: %d bytes\n", f.SampleFrameSize())
		fmt.Fprintf(w, "units per second: %d/%d\n", num, den)
		return
	}

	fpsNum, fpsDen := f.Framerate()
	fmt.Fprintf(w, "format: %s %dx%d @ %d/%d\n", f.Pixel(), f.Width(), f.Height(), fpsNum, fpsDen)
	fmt.Fprintf(w, "frame size: %d bytes\n", f.FrameSize())
	for i, p := range f.Planes() {
		fmt.Fprintf(w, "plane %d: offset=%d stride=%d pixel_stride=%d %dx%d\n",
			i, p.Offset, p.Stride, p.PixelStride, p.Width, p.Height)
	}
}
