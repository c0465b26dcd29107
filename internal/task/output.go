package task

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutputType classifies a produced artifact.
type OutputType string

const (
	OutputWebsite      OutputType = "website"
	OutputImage        OutputType = "image"
	OutputDocument     OutputType = "document"
	OutputPresentation OutputType = "presentation"
	OutputSpreadsheet  OutputType = "spreadsheet"
	OutputVideo        OutputType = "video"
	OutputAudio        OutputType = "audio"
	OutputCode         OutputType = "code"
	OutputFile         OutputType = "file"
)

var extensionTypes = map[string]OutputType{
	".html": OutputWebsite, ".htm": OutputWebsite,

	".png": OutputImage, ".jpg": OutputImage, ".jpeg": OutputImage, ".gif": OutputImage,
	".webp": OutputImage, ".svg": OutputImage, ".bmp": OutputImage, ".ico": OutputImage,

	".pdf": OutputDocument, ".doc": OutputDocument, ".docx": OutputDocument, ".md": OutputDocument,
	".txt": OutputDocument, ".rtf": OutputDocument, ".odt": OutputDocument,

	".ppt": OutputPresentation, ".pptx": OutputPresentation, ".key": OutputPresentation, ".odp": OutputPresentation,

	".xls": OutputSpreadsheet, ".xlsx": OutputSpreadsheet, ".csv": OutputSpreadsheet, ".ods": OutputSpreadsheet,

	".mp4": OutputVideo, ".mov": OutputVideo, ".webm": OutputVideo, ".avi": OutputVideo, ".mkv": OutputVideo,

	".mp3": OutputAudio, ".wav": OutputAudio, ".ogg": OutputAudio, ".m4a": OutputAudio, ".flac": OutputAudio,

	".go": OutputCode, ".js": OutputCode, ".ts": OutputCode, ".tsx": OutputCode, ".jsx": OutputCode,
	".py": OutputCode, ".rs": OutputCode, ".java": OutputCode, ".rb": OutputCode, ".sh": OutputCode,
	".css": OutputCode, ".json": OutputCode, ".yaml": OutputCode, ".yml": OutputCode, ".sql": OutputCode,
	".c": OutputCode, ".h": OutputCode, ".cpp": OutputCode, ".swift": OutputCode, ".kt": OutputCode,
}

// Output is a produced artifact. Exactly one of FilePath and URL is set.
type Output struct {
	ID        string     `json:"id" validate:"required"`
	Type      OutputType `json:"type" validate:"required"`
	Title     string     `json:"title"`
	FilePath  string     `json:"filePath,omitempty" validate:"required_without=URL,excluded_with=URL"`
	URL       string     `json:"url,omitempty" validate:"omitempty,url"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Key is the identity used for deduplication.
func (o Output) Key() string {
	if o.URL != "" {
		return "url:" + o.URL
	}
	return "file:" + o.FilePath
}

// IsURL reports whether ref names a web resource rather than a file.
func IsURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ClassifyOutput derives an output type from a path or URL.
func ClassifyOutput(ref string) OutputType {
	if IsURL(ref) {
		u, _ := url.Parse(ref)
		if t, ok := extensionTypes[strings.ToLower(path.Ext(u.Path))]; ok {
			return t
		}
		return OutputWebsite
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(ref))]; ok {
		return t
	}
	return OutputFile
}

// NewOutput builds an output for ref. Relative file paths are resolved
// against workspace. An empty title defaults to the base name.
func NewOutput(ref, title, workspace string, now time.Time) Output {
	ref = strings.TrimSpace(ref)
	o := Output{
		ID:        uuid.NewString(),
		Type:      ClassifyOutput(ref),
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
	}
	if IsURL(ref) {
		o.URL = ref
		if o.Title == "" {
			u, _ := url.Parse(ref)
			o.Title = u.Host + u.Path
			if base := path.Base(u.Path); base != "/" && base != "." {
				o.Title = base
			}
		}
		return o
	}
	resolved := ref
	if !filepath.IsAbs(resolved) && workspace != "" {
		resolved = filepath.Join(workspace, resolved)
	}
	o.FilePath = filepath.Clean(resolved)
	if o.Title == "" {
		o.Title = filepath.Base(o.FilePath)
	}
	return o
}

// AddOutput appends o unless an output with the same resolved path or URL
// already exists. It reports whether o was added.
func (m *Manifest) AddOutput(o Output) bool {
	key := o.Key()
	for _, existing := range m.Outputs {
		if existing.Key() == key {
			return false
		}
	}
	m.Outputs = append(m.Outputs, o)
	return true
}
