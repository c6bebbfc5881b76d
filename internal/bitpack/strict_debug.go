//go:build netdebug

package bitpack

// DefaultStrict в отладочной сборке (-tags netdebug) включён: переполнение: ошибка.
const DefaultStrict = true
