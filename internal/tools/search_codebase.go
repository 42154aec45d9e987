package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rendis/stepwise/pkg/schema"
)

const searchCodebaseInputSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "fileType": {"type": "string"},
    "includeDirs": {"type": ["array", "string"], "items": {"type": "string"}},
    "excludeDirs": {"type": ["array", "string"], "items": {"type": "string"}}
  },
  "required": ["query"]
}`

var defaultExcludedDirs = []string{".git", "target", ".idea", "node_modules", "build", "out", "vendor"}

var skippedExtensions = map[string]struct{}{
	".git": {}, ".class": {}, ".jar": {}, ".war": {}, ".ear": {}, ".zip": {}, ".tar": {}, ".gz": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".ico": {}, ".pdf": {}, ".doc": {}, ".docx": {},
}

// maxLineSize bounds a single scanned line.
const maxLineSize = 1024 * 1024

// SearchCodebase greps files under root for a case-insensitive regular expression.
type SearchCodebase struct {
	root string
}

// NewSearchCodebase creates the search_codebase tool.
func NewSearchCodebase(root string) *SearchCodebase {
	if root == "" {
		root = "."
	}
	return &SearchCodebase{root: root}
}

func (t *SearchCodebase) Name() string { return "search_codebase" }

func (t *SearchCodebase) Schema() Schema {
	return Schema{
		Description: "Search source files for a regular expression. Returns matching lines grouped by file.",
		InputSchema: json.RawMessage(searchCodebaseInputSchema),
	}
}

type lineMatch struct {
	LineNumber  int    `json:"lineNumber"`
	LineContent string `json:"lineContent"`
}

type fileMatches struct {
	FilePath string      `json:"filePath"`
	Matches  []lineMatch `json:"matches"`
}

func (t *SearchCodebase) Execute(ctx context.Context, params map[string]any) (any, error) {
	query := stringParam(params, "query", "")
	if strings.TrimSpace(query) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "query is required")
	}
	re, err := regexp.Compile("(?i)" + query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid query: %v", err)
	}

	fileType := stringParam(params, "fileType", "")
	match := fileTypeMatcher(fileType)

	includeDirs := listParam(params, "includeDirs")
	if len(includeDirs) == 0 {
		includeDirs = []string{"."}
	}
	extraExcludes := listParam(params, "excludeDirs")
	excluded := make(map[string]struct{}, len(defaultExcludedDirs)+len(extraExcludes))
	for _, d := range defaultExcludedDirs {
		excluded[d] = struct{}{}
	}
	for _, d := range extraExcludes {
		excluded[d] = struct{}{}
	}

	results := make([]fileMatches, 0)
	for _, dir := range includeDirs {
		base := dir
		if !filepath.IsAbs(base) {
			base = filepath.Join(t.root, dir)
		}
		if _, err := os.Stat(base); err != nil {
			continue
		}
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if path == base {
					return nil
				}
				if _, skip := excluded[name]; skip || strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(name, ".") {
				return nil
			}
			if _, skip := skippedExtensions[strings.ToLower(filepath.Ext(name))]; skip {
				return nil
			}
			if !match(name) {
				return nil
			}
			if lines := grepFile(path, re); len(lines) > 0 {
				results = append(results, fileMatches{FilePath: path, Matches: lines})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := map[string]any{
		"query":       query,
		"results":     results,
		"totalCount":  len(results),
		"includeDirs": includeDirs,
	}
	if fileType != "" {
		out["fileType"] = fileType
	}
	if len(extraExcludes) > 0 {
		out["excludeDirs"] = extraExcludes
	}
	return out, nil
}

func grepFile(path string, re *regexp.Regexp) []lineMatch {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []lineMatch
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if re.MatchString(line) {
			out = append(out, lineMatch{LineNumber: n, LineContent: strings.TrimSpace(line)})
		}
	}
	return out
}

// fileTypeMatcher accepts "go", "go,md", ".go" or a glob such as "*_test.go".
// An empty fileType matches every file.
func fileTypeMatcher(fileType string) func(name string) bool {
	fileType = strings.TrimSpace(fileType)
	if fileType == "" {
		return func(string) bool { return true }
	}
	if strings.HasPrefix(fileType, "*") {
		return func(name string) bool {
			ok, _ := filepath.Match(fileType, name)
			return ok
		}
	}
	exts := make(map[string]struct{})
	for _, e := range strings.Split(fileType, ",") {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts["."+e] = struct{}{}
		}
	}
	return func(name string) bool {
		_, ok := exts[strings.ToLower(filepath.Ext(name))]
		return ok
	}
}
