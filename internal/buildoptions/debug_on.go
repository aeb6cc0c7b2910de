//go:build stubjit_debug

package buildoptions

const IsDebugMode = true
