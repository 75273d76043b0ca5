// Package logs exposes info, warning and error loggers.
package logs

import (
	"io"
	"log"
	"os"
	"strings"
)

// Loggers with different severity levels.
var (
	Info *log.Logger
	Warn *log.Logger
	Err  *log.Logger
)

func init() {
	// Initialize with defaults so the loggers are safe to use before Init is called.
	Init(os.Stderr, "stdFlags")
}

// Init initializes the loggers with the given output and flags.
// Supported flags: std/stdFlags, date/Ldate, time/Ltime, utc/LUTC,
// micro/Lmicroseconds, file/Lshortfile.
func Init(out io.Writer, flags string) {
	var f int
	for _, s := range strings.Split(flags, ",") {
		switch strings.TrimSpace(s) {
		case "std", "stdFlags":
			f |= log.LstdFlags
		case "date", "Ldate":
			f |= log.Ldate
		case "time", "Ltime":
			f |= log.Ltime
		case "utc", "LUTC":
			f |= log.LUTC
		case "micro", "Lmicroseconds":
			f |= log.Lmicroseconds
		case "file", "Lshortfile":
			f |= log.Lshortfile
		}
	}

	Info = log.New(out, "I", f)
	Warn = log.New(out, "W", f)
	Err = log.New(out, "E", f)
}
