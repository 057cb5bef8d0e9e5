package processor

import (
	"path/filepath"
	"strings"
)

// stem strips any directory and the final extension from an uploaded filename.
func stem(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	s := strings.TrimSuffix(base, filepath.Ext(base))
	if s == "" || s == "." || s == "/" {
		return "image"
	}
	return s
}

func whiteName(name string) string {
	return stem(name) + "_white.png"
}

func interiorName(name, mainCategory string) string {
	return stem(name) + "_in_" + strings.ToLower(mainCategory) + ".jpg"
}
