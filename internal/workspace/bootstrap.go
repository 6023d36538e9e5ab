package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// BootstrapResult reports what EnsureLayout touched.
type BootstrapResult struct {
	Created []string
	Skipped []string
}

// EnsureLayout creates the workspace companion files and directories that
// the document alone does not cover: prompt.md plus the rules/ and
// references/ fragment directories. Existing entries are left alone and
// reported as skipped.
func EnsureLayout(dir string) (BootstrapResult, error) {
	var result BootstrapResult

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return result, fmt.Errorf("create workspace dir: %w", err)
	}

	for _, sub := range []string{RulesDirName, ReferencesDirName} {
		path := filepath.Join(dir, sub)
		if _, err := os.Stat(path); err == nil {
			result.Skipped = append(result.Skipped, sub)
			continue
		}
		if err := os.Mkdir(path, 0o755); err != nil {
			return result, fmt.Errorf("create %s: %w", sub, err)
		}
		result.Created = append(result.Created, sub)
	}

	promptPath := filepath.Join(dir, promptFileName)
	if _, err := os.Stat(promptPath); err == nil {
		result.Skipped = append(result.Skipped, promptFileName)
	} else {
		if err := atomicWrite(promptPath, nil, 0o644); err != nil {
			return result, fmt.Errorf("create %s: %w", promptFileName, err)
		}
		result.Created = append(result.Created, promptFileName)
	}

	return result, nil
}
