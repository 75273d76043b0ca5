// Generic data manipulation utilities.

package main

import (
	"strconv"
	"strings"
)

// parseVersion parses a major.minor version string into a single int:
// ((major & 0xff) << 8) | (minor & 0xff). Returns 0 if the string is
// invalid.
func parseVersion(vers string) int {
	var major, minor int
	var err error

	dot := strings.Index(vers, ".")
	if dot >= 0 {
		major, err = strconv.Atoi(vers[:dot])
	} else {
		major, err = strconv.Atoi(vers)
	}
	if err != nil {
		return 0
	}

	if dot >= 0 && dot < len(vers)-1 {
		dot2 := strings.IndexFunc(vers[dot+1:], func(r rune) bool {
			return !('0' <= r && r <= '9')
		})
		if dot2 < 0 {
			dot2 = len(vers) - dot - 1
		}
		minor, err = strconv.Atoi(vers[dot+1 : dot+1+dot2])
		if err != nil {
			return 0
		}
	}

	if major < 0 || major >= 0xff || minor < 0 || minor >= 0xff {
		return 0
	}

	return (major << 8) | minor
}

func versionToString(vers int) string {
	str := strconv.Itoa(vers>>8) + "." + strconv.Itoa(vers&0xff)
	return str
}

// base10Version returns the given version as a base-10 number:
// 0xAABB -> AA*100 + BB. Used by stats and monitoring.
func base10Version(vers int) int64 {
	major := vers >> 8 & 0xff
	minor := vers & 0xff
	return int64(major*100 + minor)
}
