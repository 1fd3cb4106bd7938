package imagebuild

import "embed"

// resourceFS holds the immutable root-configuration blobs and in-container
// helper scripts bound into the pop-core-build binary, per spec.md §4.6's
// "root configuration materialization" and step-2/3/13's staged scripts.
// go:embed is stdlib; no third-party embedded-resource library appears
// anywhere in the pack, so this is the one ambient concern left on the
// standard library (recorded in DESIGN.md).
//
//go:embed resources/etc resources/scripts
var resourceFS embed.FS

// rootConfigFiles maps an embedded resource path to its destination under
// a staged root, spec.md §4.6's fixed blob list.
var rootConfigFiles = map[string]string{
	"resources/etc/hostname":                                      "etc/hostname",
	"resources/etc/apt/sources.list":                               "etc/apt/sources.list",
	"resources/etc/apt/sources.list.d/system.sources":              "etc/apt/sources.list.d/system.sources",
	"resources/etc/apt/sources.list.d/pop-os-release.sources":      "etc/apt/sources.list.d/pop-os-release.sources",
	"resources/etc/apt/trusted.gpg.d/pop-keyring-2017-archive.gpg": "etc/apt/trusted.gpg.d/pop-keyring-2017-archive.gpg",
	"resources/etc/kernelstub/configuration":                       "etc/kernelstub/configuration",
}

const (
	aptScriptResource   = "resources/scripts/apt.sh"
	imageScriptResource = "resources/scripts/image.sh"
)
