package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	emptyGroupPattern = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// ParseTemplate expands a filename template with job data. The result has
// no extension; the caller appends the container's.
// Supported variables:
//
//	{name} - Job name
//	{id} - Job ID
//	{stream} - Stream ID
//	{date} - Date the job finished, YYYY-MM-DD
//	{segments} or {segments:04d} - Segment count (with optional padding)
func ParseTemplate(template string, job Job, at time.Time) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template cannot be empty")
	}

	result := template
	result = strings.ReplaceAll(result, "{name}", job.Name)
	result = strings.ReplaceAll(result, "{id}", job.ID)
	result = strings.ReplaceAll(result, "{stream}", job.StreamID)
	result = strings.ReplaceAll(result, "{date}", at.Format("2006-01-02"))

	segments := job.SegmentsTotal
	if job.Manifest != nil {
		segments = len(job.Manifest.Segments)
	}
	result = replaceNumberTemplate(result, "segments", segments)

	// Clean up empty parentheses and brackets left by empty variables
	// e.g. "name () [abc]" -> "name [abc]"
	result = emptyGroupPattern.ReplaceAllString(result, "")
	result = whitespacePattern.ReplaceAllString(result, " ")
	result = strings.TrimSpace(result)

	return SanitizeFilename(result), nil
}

// replaceNumberTemplate replaces number templates like {segments} or {segments:03d}
func replaceNumberTemplate(template, variable string, value int) string {
	// Pattern matches {variable} or {variable:format}
	pattern := regexp.MustCompile(fmt.Sprintf(`\{%s(?::(\d+)d)?\}`, variable))

	return pattern.ReplaceAllStringFunc(template, func(match string) string {
		matches := pattern.FindStringSubmatch(match)
		if len(matches) > 1 && matches[1] != "" {
			padding, err := strconv.Atoi(matches[1])
			if err != nil {
				padding = 0
			}
			return fmt.Sprintf("%0*d", padding, value)
		}
		return strconv.Itoa(value)
	})
}

// SanitizeFilename removes or replaces invalid characters from a filename
// Replaces filesystem-unsafe characters with safe alternatives
func SanitizeFilename(filename string) string {
	replacements := map[rune]string{
		'/':  "-",  // Path separator
		'\\': "-",  // Windows path separator
		':':  " -", // Colon (problematic on Windows)
		'*':  "",   // Wildcard
		'?':  "",   // Wildcard
		'"':  "'",  // Quote
		'<':  "",   // Redirect
		'>':  "",   // Redirect
		'|':  "-",  // Pipe
		'\n': " ",  // Newline
		'\r': " ",  // Carriage return
		'\t': " ",  // Tab
	}

	var result strings.Builder
	result.Grow(len(filename))

	for _, ch := range filename {
		if replacement, exists := replacements[ch]; exists {
			result.WriteString(replacement)
		} else if !unicode.IsPrint(ch) {
			continue
		} else {
			result.WriteRune(ch)
		}
	}

	cleaned := whitespacePattern.ReplaceAllString(result.String(), " ")

	// Trim spaces and dots from start/end (problematic on Windows)
	cleaned = strings.Trim(cleaned, " .")

	if cleaned == "" {
		cleaned = "download"
	}

	// Leave room for the extension and a " (n)" suffix
	if len(cleaned) > 200 {
		cleaned = cleaned[:200]
		if lastSpace := strings.LastIndex(cleaned, " "); lastSpace > 150 {
			cleaned = cleaned[:lastSpace]
		}
		cleaned = strings.TrimRight(cleaned, " .-")
	}

	return cleaned
}

// ReserveUniqueFilename creates an empty file at path, or at the first free
// "name (n).ext" variant, and returns its path. The exclusive create keeps
// concurrent jobs from picking the same name.
func ReserveUniqueFilename(path string) (string, error) {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	nameWithoutExt := strings.TrimSuffix(filepath.Base(path), ext)

	candidate := path
	for i := 1; i < 1000; i++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return candidate, f.Close()
		}
		if !os.IsExist(err) {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", nameWithoutExt, i, ext))
	}

	return "", fmt.Errorf("no free file name for %s", path)
}
