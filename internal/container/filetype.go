// Package container resolves cloud container identifiers to the local
// directory the provider keeps them in, and defines the file kinds a monitor
// can be scoped to.
package container

import (
	"fmt"
	"path"
	"strings"
)

// FileType is a monitored file kind. A monitor only reports items whose
// names match its FileType.
type FileType string

// Supported file kinds.
const (
	FileTypeKML FileType = "kml"
	FileTypeKMZ FileType = "kmz"
	FileTypeKMB FileType = "kmb"
	FileTypeGPX FileType = "gpx"
	FileTypeAny FileType = "any"
)

// FileTypes lists every supported kind.
var FileTypes = []FileType{FileTypeKML, FileTypeKMZ, FileTypeKMB, FileTypeGPX, FileTypeAny}

// ParseFileType validates a file type name (case-insensitive).
func ParseFileType(s string) (FileType, error) {
	ft := FileType(strings.ToLower(strings.TrimSpace(s)))

	for _, known := range FileTypes {
		if ft == known {
			return ft, nil
		}
	}

	return "", fmt.Errorf("container: unknown file type %q (want one of kml, kmz, kmb, gpx, any)", s)
}

// Extension returns the file extension for the kind, including the dot.
// FileTypeAny has no extension.
func (f FileType) Extension() string {
	if f == FileTypeAny {
		return ""
	}

	return "." + string(f)
}

// Matches reports whether a file name belongs to this kind.
func (f FileType) Matches(name string) bool {
	if f == FileTypeAny {
		return true
	}

	return strings.EqualFold(path.Ext(name), f.Extension())
}
