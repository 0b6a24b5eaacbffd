// Package webapp provides the embedded info and admin pages.
package webapp

import "embed"

//go:embed info.html admin.html
var Assets embed.FS
