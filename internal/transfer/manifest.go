package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultManifestName carries a leading underscore so the listing never
// collides with job output.
const DefaultManifestName = "_manifest.txt"

// Entry is one manifest line: the byte size and slash-separated path of a
// regular file, relative to the tree root.
type Entry struct {
	Size int64
	Path string
}

// Mismatch records a file whose local size differs from the manifest.
type Mismatch struct {
	Path     string
	Expected int64
	Actual   int64
}

// Result is the outcome of a fetch or verification. Verification failures
// are reported here, never raised: the caller decides what a partial tree
// means.
type Result struct {
	OK           bool
	Checked      int
	Missing      []string
	SizeMismatch []Mismatch
	Malformed    []string
	LocalDir     string
	ManifestPath string
}

// ParseManifest reads `<size>\t<relative path>` lines. Malformed lines are
// collected rather than aborting the parse, so one bad line cannot hide the
// state of every other file.
func ParseManifest(data []byte) (entries []Entry, malformed []string) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		size, rel, ok := splitManifestLine(line)
		if !ok {
			malformed = append(malformed, line)
			continue
		}
		entries = append(entries, Entry{Size: size, Path: rel})
	}
	return entries, malformed
}

func splitManifestLine(line string) (int64, string, bool) {
	sizeStr, rel, found := strings.Cut(line, "\t")
	if !found || rel == "" {
		return 0, "", false
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 10, 64)
	if err != nil || size < 0 {
		return 0, "", false
	}
	return size, rel, true
}

// Verify compares the local tree under localDir against the manifest at
// manifestPath. Size equality is the sole integrity signal; files are never
// hashed. Success requires a readable manifest, zero malformed lines, every
// file present and every size equal.
func Verify(localDir, manifestPath string) Result {
	res := Result{LocalDir: localDir, ManifestPath: manifestPath}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		res.Malformed = append(res.Malformed, fmt.Sprintf("manifest unreadable: %v", err))
		return res
	}

	entries, malformed := ParseManifest(data)
	res.Malformed = malformed
	for _, entry := range entries {
		res.Checked++
		local := filepath.Join(localDir, filepath.FromSlash(entry.Path))
		info, err := os.Stat(local)
		if err != nil {
			res.Missing = append(res.Missing, entry.Path)
			continue
		}
		if info.Size() != entry.Size {
			res.SizeMismatch = append(res.SizeMismatch, Mismatch{
				Path:     entry.Path,
				Expected: entry.Size,
				Actual:   info.Size(),
			})
		}
	}

	res.OK = len(res.Malformed) == 0 && len(res.Missing) == 0 && len(res.SizeMismatch) == 0
	return res
}
