package config

import (
	"os"
	"strings"
	"unicode"
)

// badFileName replaces names that have nothing left after cleaning.
const badFileName = "_bad_file_name_"

// cleanName drops control characters and anything in forbidden. Leading dots
// would hide the file and trailing dots or spaces are not portable to FAT
// formatted device storage, so both are trimmed.
func cleanName(in, forbidden string) string {
	forbidden += string(os.PathSeparator) + string(os.PathListSeparator)
	out := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(forbidden, r) {
			return -1
		}
		return r
	}, in)
	out = strings.TrimRight(strings.TrimLeft(out, "."), ". ")
	if len(out) == 0 {
		return badFileName
	}
	return out
}
