//go:build !darwin

package plugin

const libSuffix = ".so"
