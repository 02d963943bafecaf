package messaging

import _ "embed"

//go:embed navi.js
var loaderScript []byte

// LoaderScript is the parent-page script served at /navi.js.
func LoaderScript() []byte {
	return loaderScript
}
