//go:build production

package config

const defaultEnvironment = Production
