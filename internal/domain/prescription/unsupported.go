package prescription

import "fmt"

// DisabledOperations lists the generic token operations the registry refuses
var DisabledOperations = []string{
	"approve",
	"getApproved",
	"setApprovalForAll",
	"isApprovedForAll",
	"transferFrom",
	"safeTransferFrom",
}

// Unsupported returns the error every caller receives for a disabled operation
func Unsupported(op string) error {
	return fmt.Errorf("%s: %w", op, ErrNotImplemented)
}
