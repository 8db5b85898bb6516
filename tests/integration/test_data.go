//go:build integration

package integration

import (
	"fmt"
	"time"
)

const testPassword = "Integr4tion!Pass"

// TestEmail generates a unique address per call site and run
func TestEmail(suffix string) string {
	return fmt.Sprintf("patient-%d-%s@example.com", time.Now().UnixNano(), suffix)
}
