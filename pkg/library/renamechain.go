// renamechain.go implements the "<basename>.unmanic.info" rename-chain
// trace from spec.md §6.3: line-delimited `newname="originalname"`
// records, appended on every post-processor rename; the first record
// holds the oldest original name. This is recovered from
// unmanic/libs/*'s file-handling helpers in original_source/ - dropped
// from spec.md's distillation but directly supports the Post-Processor's
// destination naming (§4.F), so SPEC_FULL.md §3 adds it back.
package library

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// infoSuffix is appended to the source basename to form the chain file's
// name, e.g. "movie.mkv.unmanic.info".
const infoSuffix = ".unmanic.info"

// InfoFilePath returns the rename-chain file path for basename within
// dir.
func InfoFilePath(dir, basename string) string {
	return dir + string(os.PathSeparator) + basename + infoSuffix
}

// AppendRename records that originalName was renamed to newName, by
// appending a `newname="originalname"` line to infoPath. The file is
// created if absent.
func AppendRename(infoPath, newName, originalName string) error {
	f, err := os.OpenFile(infoPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("library: open rename chain %s: %w", infoPath, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s=%q\n", newName, originalName)
	return err
}

// OldestOriginalName reads infoPath and returns the original name from
// its first record - the name the file had
// before any renames in this chain were ever applied. Returns "" if
// infoPath does not exist or holds no records.
func OldestOriginalName(infoPath string) (string, error) {
	f, err := os.Open(infoPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("library: open rename chain %s: %w", infoPath, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}

	// The oldest original name is the value from the very first record
	// appended to the chain - reading back-to-front means walking from
	// the newest record towards that first one, but the name we want is
	// simply parsed off line[0], since every record already carries the
	// name the file had before the *first* rename in the chain.
	_, original, ok := strings.Cut(lines[0], "=")
	if !ok {
		return "", fmt.Errorf("library: malformed rename chain record: %q", lines[0])
	}
	return strings.Trim(original, `"`), nil
}
