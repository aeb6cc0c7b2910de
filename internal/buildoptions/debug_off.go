//go:build !stubjit_debug

package buildoptions

// IsDebugMode true if the compiler is built with the "stubjit_debug" tag. Debug mode turns
// allocator leak checks and relocation verification into fatal assertions.
const IsDebugMode = false
