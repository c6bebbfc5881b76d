//go:build !netdebug

package bitpack

// DefaultStrict в релизной сборке выключен: значения, не влезающие в ширину, усекаются.
const DefaultStrict = false
