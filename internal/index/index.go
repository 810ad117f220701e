// Package index builds an in-memory, content-addressed index of a working
// tree: the set of text files, per-file line counts, and a snippet index
// that maps normalized code fragments to their occurrences. The index is
// immutable after construction and lives for one analysis.
package index

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"

	"github.com/prlens/prlens/internal/types"
)

// DefaultTextExtensions is the whitelist of extensions indexed when the
// caller does not provide one: source languages plus common config formats.
var DefaultTextExtensions = []string{
	".go", ".js", ".jsx", ".ts", ".tsx", ".py", ".java", ".c", ".cc", ".cpp",
	".h", ".hpp", ".rs", ".rb", ".php", ".sh", ".cs", ".kt", ".swift",
	".scala", ".sql", ".yaml", ".yml", ".json", ".toml", ".ini",
}

// DefaultDenyPatterns excludes dependency caches, build outputs, and VCS
// metadata from the index.
var DefaultDenyPatterns = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/third_party/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/__pycache__/**",
	"**/.next/**",
	"**/coverage/**",
}

// Options configures index construction.
type Options struct {
	TextExtensions []string
	DenyPatterns   []string
	FileSizeCap    int64 // files larger than this are skipped for the snippet index
	GroupMin       int   // smallest snippet group length indexed
	GroupMax       int   // largest snippet group length indexed
}

func (o *Options) applyDefaults() {
	if len(o.TextExtensions) == 0 {
		o.TextExtensions = DefaultTextExtensions
	}
	if len(o.DenyPatterns) == 0 {
		o.DenyPatterns = DefaultDenyPatterns
	}
	if o.FileSizeCap == 0 {
		o.FileSizeCap = 1 << 20
	}
	if o.GroupMin == 0 {
		o.GroupMin = 2
	}
	if o.GroupMax == 0 {
		o.GroupMax = 10
	}
}

// Occurrence is one place a normalized fragment appears.
type Occurrence struct {
	File string // relative path
	Line int    // 1-based first line of the fragment
}

// Match is one LookupSnippet result. Score is 100 for an exact contiguous
// match, 80 for a whitespace-normalized match, 60 for a fuzzy match that
// tolerates one differing token.
type Match struct {
	File  string
	Line  int
	Score int
}

// Extract is the result of ExtractLines.
type Extract struct {
	Code         string
	LanguageHint string
}

// RepositoryIndex is the read-only index of one working-tree checkout.
type RepositoryIndex struct {
	root       string
	files      map[string]struct{}
	lineCounts map[string]int
	lines      map[string][]string // raw lines, only for files under the size cap

	snippets  map[uint64][]Occurrence // normalized multi-line group -> occurrences
	lineIndex map[uint64][]Occurrence // normalized single line -> occurrences

	stats   types.IndexStats
	builtAt time.Time
}

// Build walks root eagerly, single-threaded, one pass per file. It fails
// only when the root itself is unreadable; individual file read errors are
// logged and the file skipped.
func Build(root string, opts Options) (*RepositoryIndex, error) {
	opts.applyDefaults()
	start := time.Now()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, types.NewEngineError(types.FailureIndexIO, "index build", err)
	}
	if _, err := os.ReadDir(absRoot); err != nil {
		return nil, types.NewEngineError(types.FailureIndexIO, "index build",
			fmt.Errorf("repository root unreadable: %w", err))
	}

	ix := &RepositoryIndex{
		root:       absRoot,
		files:      make(map[string]struct{}),
		lineCounts: make(map[string]int),
		lines:      make(map[string][]string),
		snippets:   make(map[uint64][]Occurrence),
		lineIndex:  make(map[uint64][]Occurrence),
		builtAt:    start,
	}

	extSet := make(map[string]struct{}, len(opts.TextExtensions))
	for _, ext := range opts.TextExtensions {
		extSet[strings.ToLower(ext)] = struct{}{}
	}

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subdirectory: skip it, keep indexing the rest.
			slog.Warn("index: skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && denied(rel+"/", opts.DenyPatterns) {
				return filepath.SkipDir
			}
			return nil
		}
		if denied(rel, opts.DenyPatterns) {
			return nil
		}
		if _, ok := extSet[strings.ToLower(filepath.Ext(rel))]; !ok {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			slog.Warn("index: cannot stat file", "file", rel, "error", infoErr)
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			slog.Warn("index: cannot read file", "file", rel, "error", readErr)
			ix.stats.SkippedFiles++
			return nil
		}

		fileLines := splitLines(string(data))
		ix.files[rel] = struct{}{}
		ix.lineCounts[rel] = len(fileLines)

		if info.Size() > opts.FileSizeCap {
			// Oversized files stay in files/lineCounts but are excluded
			// from the snippet index.
			ix.stats.SkippedFiles++
			return nil
		}

		ix.lines[rel] = fileLines
		ix.indexFragments(rel, fileLines, opts.GroupMin, opts.GroupMax)
		return nil
	})
	if walkErr != nil {
		return nil, types.NewEngineError(types.FailureIndexIO, "index build", walkErr)
	}

	ix.sortOccurrences()
	ix.stats.Files = len(ix.files)
	ix.stats.SnippetKeys = len(ix.snippets) + len(ix.lineIndex)
	ix.stats.BuildDuration = time.Since(start)
	return ix, nil
}

// denied reports whether rel matches any denylist pattern.
func denied(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
		// Directory entries are tested with a trailing slash; also test the
		// bare path so prefixes like "vendor/**" match the dir itself.
		if matched, err := doublestar.Match(pattern, strings.TrimSuffix(rel, "/")); err == nil && matched {
			return true
		}
	}
	return false
}

// indexFragments records every contiguous non-blank line group of length
// groupMin..groupMax, plus every individual non-blank line.
func (ix *RepositoryIndex) indexFragments(file string, fileLines []string, groupMin, groupMax int) {
	n := len(fileLines)
	for i := 0; i < n; i++ {
		norm := NormalizeLine(fileLines[i])
		if norm == "" {
			continue
		}
		key := xxhash.Sum64String(norm)
		ix.lineIndex[key] = append(ix.lineIndex[key], Occurrence{File: file, Line: i + 1})

		// Extend groups starting at line i while lines stay non-blank.
		var normLines []string
		for j := i; j < n && j < i+groupMax; j++ {
			ln := NormalizeLine(fileLines[j])
			if ln == "" {
				break
			}
			normLines = append(normLines, ln)
			if size := len(normLines); size >= groupMin {
				key := xxhash.Sum64String(strings.Join(normLines, "\n"))
				ix.snippets[key] = append(ix.snippets[key], Occurrence{File: file, Line: i + 1})
			}
		}
	}
}

// sortOccurrences fixes a deterministic recovery order for every bucket:
// shallower paths first, then lexicographic path, then line number.
func (ix *RepositoryIndex) sortOccurrences() {
	sortBucket := func(occs []Occurrence) {
		sort.Slice(occs, func(a, b int) bool {
			da, db := strings.Count(occs[a].File, "/"), strings.Count(occs[b].File, "/")
			if da != db {
				return da < db
			}
			if occs[a].File != occs[b].File {
				return occs[a].File < occs[b].File
			}
			return occs[a].Line < occs[b].Line
		})
	}
	for _, occs := range ix.snippets {
		sortBucket(occs)
	}
	for _, occs := range ix.lineIndex {
		sortBucket(occs)
	}
}

// Root returns the absolute working-tree path the index was built from.
func (ix *RepositoryIndex) Root() string { return ix.root }

// Stats returns index construction statistics.
func (ix *RepositoryIndex) Stats() types.IndexStats { return ix.stats }

// HasFile reports whether the relative path exists in the index.
func (ix *RepositoryIndex) HasFile(rel string) bool {
	_, ok := ix.files[filepath.ToSlash(rel)]
	return ok
}

// LineCount returns the number of lines in an indexed file, or 0 when the
// file is not indexed.
func (ix *RepositoryIndex) LineCount(rel string) int {
	return ix.lineCounts[filepath.ToSlash(rel)]
}

// Files returns the indexed relative paths in sorted order.
func (ix *RepositoryIndex) Files() []string {
	out := make([]string, 0, len(ix.files))
	for f := range ix.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// languageHints maps extensions to coarse language names for renderers.
var languageHints = map[string]string{
	".go": "go", ".js": "javascript", ".jsx": "javascript", ".ts": "typescript",
	".tsx": "typescript", ".py": "python", ".java": "java", ".c": "c",
	".cc": "cpp", ".cpp": "cpp", ".h": "c", ".hpp": "cpp", ".rs": "rust",
	".rb": "ruby", ".php": "php", ".sh": "shell", ".cs": "csharp",
	".kt": "kotlin", ".swift": "swift", ".scala": "scala", ".sql": "sql",
	".yaml": "yaml", ".yml": "yaml", ".json": "json", ".toml": "toml",
}

// ExtractLines returns the code at file:line with `context` lines either
// side, or a NotFound error when the location does not exist in the index.
func (ix *RepositoryIndex) ExtractLines(file string, line, context int) (Extract, error) {
	rel := filepath.ToSlash(file)
	fileLines, ok := ix.lines[rel]
	if !ok {
		if _, exists := ix.files[rel]; exists {
			return Extract{}, fmt.Errorf("file %s indexed without content (over size cap)", rel)
		}
		return Extract{}, fmt.Errorf("file not found in index: %s", rel)
	}
	if line < 1 || line > len(fileLines) {
		return Extract{}, fmt.Errorf("line %d out of range for %s (1-%d)", line, rel, len(fileLines))
	}

	lo := line - 1 - context
	if lo < 0 {
		lo = 0
	}
	hi := line + context
	if hi > len(fileLines) {
		hi = len(fileLines)
	}
	return Extract{
		Code:         strings.Join(fileLines[lo:hi], "\n"),
		LanguageHint: languageHints[strings.ToLower(filepath.Ext(rel))],
	}, nil
}

// splitLines splits file content into lines without the trailing newline
// producing a phantom empty line.
func splitLines(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}
