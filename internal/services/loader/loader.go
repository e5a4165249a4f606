// Package loader registers every HTTP service through blank imports.
package loader

import (
	_ "github.com/MahdiBaghbani/guestservice-go/internal/services/guests"
)
