// Package loader registers channel drivers via blank imports.
//
// Usage in main.go:
//
//	import _ "github.com/MahdiBaghbani/guestservice-go/internal/platform/channel/loader"
package loader

import (
	_ "github.com/MahdiBaghbani/guestservice-go/internal/platform/channel/memory"
	_ "github.com/MahdiBaghbani/guestservice-go/internal/platform/channel/valkey"
)
