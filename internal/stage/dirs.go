package stage

import (
	"fmt"
	"os"
	"strings"
)

func checkDir(dir string) string {
	if strings.TrimSpace(dir) == "" {
		return "stage directory not configured"
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Sprintf("stat %s: %v", dir, err)
	}
	if !info.IsDir() {
		return fmt.Sprintf("%s is not a directory", dir)
	}
	return ""
}
