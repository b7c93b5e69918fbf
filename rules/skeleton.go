package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// AppNameToken is replaced by the business rule id in the composite skeleton.
const AppNameToken = "appName"

// Named markers every composite skeleton must contain.
const (
	markerInputTemplate    = "inputTemplate"
	markerOutputTemplate   = "outputTemplate"
	markerInputStreamName  = "inputStreamName"
	markerLogic            = "logic"
	markerMapping          = "mapping"
	markerOutputStreamName = "outputStreamName"
)

var skeletonMarkers = []string{
	markerInputTemplate,
	markerOutputTemplate,
	markerInputStreamName,
	markerLogic,
	markerMapping,
	markerOutputStreamName,
}

//go:embed composite_skeleton.siddhi
var defaultSkeleton string

// SkeletonProvider loads the composite application skeleton.
type SkeletonProvider interface {
	Load() (string, error)
}

// EmbeddedSkeleton serves the skeleton compiled into the binary.
type EmbeddedSkeleton struct{}

// Load returns the embedded skeleton.
func (EmbeddedSkeleton) Load() (string, error) {
	return defaultSkeleton, nil
}

// FileSkeleton reads the skeleton from Path on every Load.
type FileSkeleton struct {
	Path string
}

// Load reads and validates the skeleton file.
func (f FileSkeleton) Load() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read skeleton %s: %w", f.Path, err)
	}
	return string(data), nil
}

// validateSkeleton checks that text carries every marker and the app-name token.
func validateSkeleton(text string) error {
	var missing []string
	for _, m := range skeletonMarkers {
		if !strings.Contains(text, "${"+m+"}") {
			missing = append(missing, m)
		}
	}
	if !strings.Contains(text, AppNameToken) {
		missing = append(missing, AppNameToken)
	}
	if len(missing) > 0 {
		return fmt.Errorf("skeleton is missing %s", strings.Join(missing, ", "))
	}
	return nil
}
