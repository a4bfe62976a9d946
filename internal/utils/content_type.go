package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// DetectContentType infers a media type from the file extension.
// Image extensions are matched case-insensitively without consulting the
// system mime database, which is often incomplete on embedded devices.
func DetectContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := imageTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
