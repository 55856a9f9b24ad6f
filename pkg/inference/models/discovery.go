// Package models implements the model registry and filesystem discovery
// scanner: naming, locating, and validating models on disk, reconciling
// manually configured entries with entries found by scanning.
package models

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shimmy-run/shimmy/pkg/inference"
)

// DefaultMaxDepth bounds how many directories deep a scan recurses below a
// search root.
const DefaultMaxDepth = 4

// DefaultMaxFiles bounds the number of regular files a single scan will
// examine, across all roots, to cap worst-case cost.
const DefaultMaxFiles = 10000

// binDenylistStems are path stems that disqualify a .bin file from being
// treated as a model weight file.
var binDenylistStems = []string{"whisper", "wav2vec", "pytorch_model"}

// configLikeBinPattern additionally excludes generic config-style .bin
// names such as "config.bin" or "*-config.bin".
var configLikeBinPattern = regexp.MustCompile(`(?i)config`)

// transientDirs names ancestor directories that are never descended into
// nor have their contents classified as models.
var transientDirs = map[string]bool{
	"target": true, "cmake": true, "incremental": true,
	".git": true, "node_modules": true,
}

var adapterNamePattern = regexp.MustCompile(`(?i)(adapter|lora|peft)`)

// acceptedAdapterExtensions are the extensions an adapter pairing candidate
// must carry in addition to matching adapterNamePattern.
var acceptedAdapterExtensions = []string{".gguf", ".bin", ".safetensors"}

// Scanner walks a set of search roots looking for candidate model files.
type Scanner struct {
	Roots    []string
	MaxDepth int
	MaxFiles int
}

// NewScanner builds a Scanner over roots with the default depth and
// file-count bounds.
func NewScanner(roots []string) *Scanner {
	return &Scanner{Roots: roots, MaxDepth: DefaultMaxDepth, MaxFiles: DefaultMaxFiles}
}

// DefaultRoots returns the built-in default search-root set: the current
// directory's models/ subdirectory, SHIMMY_MODELS_PATH if set, the user's
// cache directory, and the user's downloads area.
func DefaultRoots() []string {
	roots := []string{"models"}
	if p := os.Getenv("SHIMMY_MODELS_PATH"); p != "" {
		roots = append(roots, p)
	}
	if cacheDir, err := os.UserCacheDir(); err == nil {
		roots = append(roots, filepath.Join(cacheDir, "shimmy", "models"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, "Downloads"))
	}
	return roots
}

// candidateFile is a classified, not-yet-named regular file found while
// walking a root.
type candidateFile struct {
	path string
	dir  string
}

// Scan walks every existing root recursively, bounded by MaxDepth and
// MaxFiles, and returns one DiscoveredModel per base model file found, with
// adapters paired in and names assigned. The result is idempotent: running
// Scan twice against an unchanged filesystem yields an equal set of
// records, because iteration order is normalized (directory entries sorted)
// before naming and collision suffixes are assigned in that stable order.
func (s *Scanner) Scan() ([]inference.DiscoveredModel, error) {
	var bases []candidateFile
	filesSeen := 0

	for _, root := range s.Roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}
		found, examined, err := walkBounded(root, s.MaxDepth, s.MaxFiles-filesSeen)
		if err != nil {
			return nil, err
		}
		bases = append(bases, found...)
		filesSeen += examined
		if filesSeen >= s.MaxFiles {
			break
		}
	}

	sort.Slice(bases, func(i, j int) bool { return bases[i].path < bases[j].path })

	names := make(map[string]int) // stem -> count seen, for collision suffixes
	discovered := make([]inference.DiscoveredModel, 0, len(bases))

	for _, b := range bases {
		adapter := findAdapter(b.dir, b.path)
		stem := stemOf(b.path)
		name := slugify(stem)
		names[name]++
		if n := names[name]; n > 1 {
			name = name + "-" + strconv.Itoa(n)
		}

		dm := inference.DiscoveredModel{
			BasePath:       b.path,
			AdapterPath:    adapter,
			Backend:        inference.BackendLocalGGUF,
			TemplateFamily: inferTemplateFamily(name),
			NameHint:       name,
		}
		discovered = append(discovered, dm)
	}

	return discovered, nil
}

// walkBounded walks root recursively up to maxDepth directories deep,
// returning every included base-model candidate file and the number of
// regular files examined, and stops once it has examined maxFiles regular
// files.
func walkBounded(root string, maxDepth, maxFiles int) ([]candidateFile, int, error) {
	if maxFiles <= 0 {
		return nil, 0, nil
	}
	var out []candidateFile
	seen := 0

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if seen >= maxFiles {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil // unreadable directory: skip rather than fail the whole scan
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, e := range entries {
			if seen >= maxFiles {
				return nil
			}
			name := e.Name()
			full := filepath.Join(dir, name)
			if e.IsDir() {
				if transientDirs[name] {
					continue
				}
				if depth+1 > maxDepth {
					continue
				}
				if err := walk(full, depth+1); err != nil {
					return err
				}
				continue
			}
			seen++
			if includeAsBase(full) {
				out = append(out, candidateFile{path: full, dir: dir})
			}
		}
		return nil
	}

	if err := walk(root, 0); err != nil {
		return nil, seen, err
	}
	return out, seen, nil
}

// includeAsBase classifies path as a base-model candidate: .gguf files
// always qualify; .bin files qualify unless their stem is denylisted. A file
// whose basename matches adapterNamePattern is never a base candidate in its
// own right — it is only ever attached to a base via findAdapter.
func includeAsBase(path string) bool {
	if adapterNamePattern.MatchString(filepath.Base(path)) {
		return false
	}
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gguf") {
		return true
	}
	if strings.HasSuffix(lower, ".bin") {
		stem := strings.ToLower(stemOf(path))
		for _, d := range binDenylistStems {
			if strings.Contains(stem, d) {
				return false
			}
		}
		if configLikeBinPattern.MatchString(stem) {
			return false
		}
		return true
	}
	return false
}

// findAdapter looks in dir and its immediate children for a file matching
// *adapter*, *lora*, or *peft* with an accepted extension, attaching the
// first lexicographic match as the adapter path; excludePath is never
// selected as its own adapter.
func findAdapter(dir, excludePath string) string {
	candidates := make([]string, 0, 4)

	collect := func(d string) {
		entries, err := os.ReadDir(d)
		if err != nil {
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			full := filepath.Join(d, e.Name())
			if full == excludePath {
				continue
			}
			if !adapterNamePattern.MatchString(e.Name()) {
				continue
			}
			lower := strings.ToLower(e.Name())
			for _, ext := range acceptedAdapterExtensions {
				if strings.HasSuffix(lower, ext) {
					candidates = append(candidates, full)
					break
				}
			}
		}
	}

	collect(dir)
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				collect(filepath.Join(dir, e.Name()))
			}
		}
	}

	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates)
	return candidates[0]
}

var nonIdentPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lower-cases stem and replaces runs of non-identifier characters
// with a single hyphen, trimming leading/trailing hyphens.
func slugify(stem string) string {
	lower := strings.ToLower(stem)
	slug := nonIdentPattern.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// inferTemplateFamily applies the substring rules on a model's discovered
// name to guess its template family.
func inferTemplateFamily(name string) inference.TemplateFamily {
	switch {
	case strings.Contains(name, "llama-3"), strings.Contains(name, "llama3"):
		return inference.TemplateLlama3
	case strings.Contains(name, "phi"), strings.Contains(name, "qwen"), strings.Contains(name, "mistral-instruct"):
		return inference.TemplateChatML
	case strings.Contains(name, "openchat"):
		return inference.TemplateOpenChat
	default:
		return inference.TemplateChatML
	}
}
