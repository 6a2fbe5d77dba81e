// Package process runs subprocesses that consume data on stdin.
//
// A Process is started once. Start returns the stdin writer; closing it
// signals end of input. Stop closes stdin, sends SIGINT and kills the
// process if it has not exited within the graceful timeout. Output lines
// are logged through a pluggable LogParser so tool-specific levels map onto
// slog levels.
//
//	proc := process.NewProcess("encode", "ffmpeg -f rawvideo ... -i pipe:0 out.mkv", logger)
//	proc.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
//	stdin, err := proc.Start()
//	...
//	stdin.Close()
//	code := proc.Wait(ctx)
package process
