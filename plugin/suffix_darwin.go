//go:build darwin

package plugin

const libSuffix = ".dylib"
