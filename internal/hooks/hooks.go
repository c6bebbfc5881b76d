// Package hooks: упорядоченные списки обработчиков, вызываемых синхронно.
package hooks

// List упорядоченный список обработчиков одного события
type List[T any] struct {
	handlers []func(T)
}

// Add регистрирует обработчик; порядок вызова совпадает с порядком регистрации
func (l *List[T]) Add(fn func(T)) {
	if fn == nil {
		return
	}
	l.handlers = append(l.handlers, fn)
}

// Invoke вызывает все обработчики по порядку
func (l *List[T]) Invoke(v T) {
	for _, fn := range l.handlers {
		fn(v)
	}
}

// Len число обработчиков
func (l *List[T]) Len() int { return len(l.handlers) }

// Clear удаляет все обработчики
func (l *List[T]) Clear() { l.handlers = nil }
