package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
)

// Компоненты сервера; у каждого свой логгер и свой файл в LOG_DIR
const (
	ComponentNetwork  = "network"
	ComponentServer   = "server"
	ComponentClient   = "client"
	ComponentInterest = "interest"
	ComponentAPI      = "api"
	ComponentStorage  = "storage"
	ComponentEvents   = "events"
)

// LoggerManager выдаёт по одному логгеру на компонент
type LoggerManager struct {
	mu      sync.Mutex
	loggers map[string]*Logger
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager менеджер процесса
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{loggers: make(map[string]*Logger)}
	})
	return globalManager
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if l, ok := lm.loggers[component]; ok {
		return l, nil
	}
	l, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("logger %s: %w", component, err)
	}
	lm.loggers[component] = l
	return l, nil
}

// MustGetLogger как GetLogger, но при ошибке (например, нет прав на LOG_DIR)
// отдаёт логгер только в консоль
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	l, err := lm.GetLogger(component)
	if err == nil {
		return l
	}
	log.Printf("[WARN] [logging] %v: пишу только в консоль", err)

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if existing, ok := lm.loggers[component]; ok {
		return existing
	}
	l = &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		minConsoleLevel: envLevel(),
		minFileLevel:    ERROR + 1,
	}
	lm.loggers[component] = l
	return l
}

// CloseAll закрывает файлы всех компонентов и забывает логгеры
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	var firstErr error
	for name, l := range lm.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close logger %s: %w", name, err)
		}
	}
	lm.loggers = make(map[string]*Logger)
	return firstErr
}

// ListComponents имена компонентов по алфавиту
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	names := make([]string, 0, len(lm.loggers))
	for name := range lm.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetLogLevel меняет пороги уже созданного логгера
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.loggers[component]
	if !ok {
		return fmt.Errorf("logger %s not found", component)
	}
	l.minConsoleLevel = consoleLevel
	l.minFileLevel = fileLevel
	return nil
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetNetworkLogger() *Logger  { return GetComponentLogger(ComponentNetwork) }
func GetServerLogger() *Logger   { return GetComponentLogger(ComponentServer) }
func GetClientLogger() *Logger   { return GetComponentLogger(ComponentClient) }
func GetInterestLogger() *Logger { return GetComponentLogger(ComponentInterest) }
func GetAPILogger() *Logger      { return GetComponentLogger(ComponentAPI) }
func GetStorageLogger() *Logger  { return GetComponentLogger(ComponentStorage) }
func GetEventsLogger() *Logger   { return GetComponentLogger(ComponentEvents) }
