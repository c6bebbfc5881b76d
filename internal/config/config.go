package config

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера и клиента.
// Секция compression обязана совпадать у обеих сторон.
type Config struct {
	Replication ReplicationConfig `yaml:"replication"`
	Interest    InterestConfig    `yaml:"interest"`
	Compression CompressionConfig `yaml:"compression"`
	Batching    BatchingConfig    `yaml:"batching"`
	Transport   TransportConfig   `yaml:"transport"`
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Storage     StorageConfig     `yaml:"storage"`
	Events      EventsConfig      `yaml:"events"`
	Terrain     TerrainConfig     `yaml:"terrain"`
}

type ReplicationConfig struct {
	SendInterval          float64 `yaml:"send_interval_seconds"`
	TickRate              int     `yaml:"tick_rate"`
	TransformSyncInterval float64 `yaml:"transform_sync_interval_seconds"`
	// DestroyOwnedOnDisconnect: удалять сущности владельца при отключении
	DestroyOwnedOnDisconnect *bool `yaml:"destroy_owned_on_disconnect"`
}

type InterestConfig struct {
	// Strategy: brute_force | spatial_hash | always_visible
	Strategy         string  `yaml:"strategy"`
	VisibilityRadius float64 `yaml:"visibility_radius"`
	UpdateInterval   float64 `yaml:"update_interval_seconds"`
	CellSize         float64 `yaml:"cell_size"`
}

type Vec3Config struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type CompressionConfig struct {
	Version           int        `yaml:"version"`
	IDBitsSmall       int        `yaml:"id_bits_small"`
	IDBitsMedium      int        `yaml:"id_bits_medium"`
	IDBitsLarge       int        `yaml:"id_bits_large"`
	PositionMin       Vec3Config `yaml:"position_min"`
	PositionMax       Vec3Config `yaml:"position_max"`
	PositionPrecision float64    `yaml:"position_precision"`
	RotationBits      int        `yaml:"rotation_bits"`
	// Strict: ошибка вместо усечения при выходе значения за ширину поля
	Strict bool `yaml:"strict"`
}

type BatchingConfig struct {
	ReliableThreshold   int `yaml:"reliable_threshold"`
	UnreliableThreshold int `yaml:"unreliable_threshold"`
	MaxMessageSize      int `yaml:"max_message_size"`
}

type TransportConfig struct {
	// Kind: kcp | websocket
	Kind          string `yaml:"kind"`
	WebSocketPath string `yaml:"websocket_path"`
	// Compression: none | zstd
	Compression string  `yaml:"compression"`
	BufferSize  int     `yaml:"buffer_size"`
	IdleTimeout float64 `yaml:"idle_timeout_seconds"`
}

type ServerConfig struct {
	KCPPort   int `yaml:"kcp_port"`
	WSPort    int `yaml:"ws_port"`
	AdminPort int `yaml:"admin_port"`
}

type AuthConfig struct {
	// Mode: none | jwt
	Mode      string `yaml:"mode"`
	JWTSecret string `yaml:"jwt_secret"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

// StorageConfig хранилище профилей игроков
type StorageConfig struct {
	// Backend: memory | badger | redis | mysql | mongo
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	MySQLDSN      string `yaml:"mysql_dsn"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	// AutosaveInterval 0: сохранять только при уходе игрока и остановке
	AutosaveInterval float64 `yaml:"autosave_interval_seconds"`
	LoadTimeout      float64 `yaml:"load_timeout_seconds"`
}

// EventsConfig шина событий жизненного цикла (подключения, спавны)
type EventsConfig struct {
	// Backend: none | memory | nats
	Backend          string  `yaml:"backend"`
	NATSURL          string  `yaml:"nats_url"`
	Stream           string  `yaml:"stream"`
	RetentionSeconds float64 `yaml:"retention_seconds"`
}

// TerrainConfig поверхность, по которой ходят NPC и боты; должна совпадать у сервера и ботов
type TerrainConfig struct {
	Seed  int64   `yaml:"seed"`
	Scale float64 `yaml:"scale"`
	// Amplitude 0: плоский мир
	Amplitude float64 `yaml:"amplitude"`
}

// Default конфигурация по умолчанию
func Default() *Config {
	destroyOwned := true
	return &Config{
		Replication: ReplicationConfig{
			SendInterval:             0.1,
			TickRate:                 30,
			TransformSyncInterval:    0.05,
			DestroyOwnedOnDisconnect: &destroyOwned,
		},
		Interest: InterestConfig{
			Strategy:         "brute_force",
			VisibilityRadius: 100,
			UpdateInterval:   1,
		},
		Compression: CompressionConfig{
			Version:           1,
			IDBitsSmall:       6,
			IDBitsMedium:      12,
			IDBitsLarge:       18,
			PositionMin:       Vec3Config{X: -1000, Y: -100, Z: -1000},
			PositionMax:       Vec3Config{X: 1000, Y: 100, Z: 1000},
			PositionPrecision: 0.01,
			RotationBits:      9,
		},
		Batching: BatchingConfig{
			ReliableThreshold:   1200,
			UnreliableThreshold: 1200,
			MaxMessageSize:      16 * 1024,
		},
		Transport: TransportConfig{
			Kind:        "kcp",
			Compression: "none",
			BufferSize:  4096,
			IdleTimeout: 30,
		},
		Auth: AuthConfig{Mode: "none"},
		Telemetry: TelemetryConfig{
			ServiceName: "netsync-server",
		},
		Storage: StorageConfig{
			Backend:          "memory",
			Path:             "data",
			RedisAddr:        "localhost:6379",
			MongoURI:         "mongodb://localhost:27017",
			MongoDatabase:    "netsync",
			AutosaveInterval: 30,
			LoadTimeout:      0.2,
		},
		Events: EventsConfig{
			Backend:          "none",
			NATSURL:          "nats://127.0.0.1:4222",
			Stream:           "NETSYNC_EVENTS",
			RetentionSeconds: 24 * 60 * 60,
		},
		Terrain: TerrainConfig{Seed: 1337, Scale: 50, Amplitude: 5},
	}
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "NETSYNC_KCP_PORT", 7777)
}

// GetWSPort порт WebSocket транспорта: конфиг, затем NETSYNC_WS_PORT, затем 7778
func (s *ServerConfig) GetWSPort() int {
	return getPortWithEnvFallback(s.WSPort, "NETSYNC_WS_PORT", 7778)
}

// GetAdminPort возвращает порт admin API с поддержкой fallback значений
func (s *ServerConfig) GetAdminPort() int {
	return getPortWithEnvFallback(s.AdminPort, "NETSYNC_ADMIN_PORT", 8088)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// GetJWTSecret секрет из конфига или NETSYNC_JWT_SECRET
func (a *AuthConfig) GetJWTSecret() string {
	if a.JWTSecret != "" {
		return a.JWTSecret
	}
	return os.Getenv("NETSYNC_JWT_SECRET")
}

// DestroyOwned удалять ли сущности отключившегося владельца (по умолчанию да)
func (r *ReplicationConfig) DestroyOwned() bool {
	return r.DestroyOwnedOnDisconnect == nil || *r.DestroyOwnedOnDisconnect
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (r *ReplicationConfig) SendIntervalDuration() time.Duration { return seconds(r.SendInterval) }

func (r *ReplicationConfig) TransformIntervalDuration() time.Duration {
	return seconds(r.TransformSyncInterval)
}

// TickInterval период тика
func (r *ReplicationConfig) TickInterval() time.Duration {
	if r.TickRate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(r.TickRate)
}

func (i *InterestConfig) UpdateIntervalDuration() time.Duration { return seconds(i.UpdateInterval) }

func (t *TransportConfig) IdleTimeoutDuration() time.Duration { return seconds(t.IdleTimeout) }

func (s *StorageConfig) AutosaveDuration() time.Duration { return seconds(s.AutosaveInterval) }

func (s *StorageConfig) LoadTimeoutDuration() time.Duration { return seconds(s.LoadTimeout) }

// GetMySQLDSN возвращает DSN с приоритетом ENV NETSYNC_MYSQL_DSN
func (s *StorageConfig) GetMySQLDSN() string {
	if dsn := os.Getenv("NETSYNC_MYSQL_DSN"); dsn != "" {
		return dsn
	}
	return s.MySQLDSN
}

func (e *EventsConfig) Retention() time.Duration { return seconds(e.RetentionSeconds) }

// Validate отвергает невозможные настройки
func (c *Config) Validate() error {
	cc := &c.Compression
	for _, b := range []struct {
		name string
		v    int
	}{{"id_bits_small", cc.IDBitsSmall}, {"id_bits_medium", cc.IDBitsMedium}, {"id_bits_large", cc.IDBitsLarge}, {"rotation_bits", cc.RotationBits}} {
		if b.v < 1 || b.v > 32 {
			return fmt.Errorf("config: compression.%s=%d out of 1..32", b.name, b.v)
		}
	}
	if !(cc.IDBitsSmall < cc.IDBitsMedium && cc.IDBitsMedium < cc.IDBitsLarge) {
		return fmt.Errorf("config: id bit tiers must grow: %d/%d/%d", cc.IDBitsSmall, cc.IDBitsMedium, cc.IDBitsLarge)
	}
	if cc.RotationBits < 2 || cc.RotationBits > 30 {
		return fmt.Errorf("config: compression.rotation_bits=%d out of 2..30", cc.RotationBits)
	}
	if !(cc.PositionPrecision > 0) {
		return fmt.Errorf("config: compression.position_precision must be > 0")
	}
	mins := [3]float64{cc.PositionMin.X, cc.PositionMin.Y, cc.PositionMin.Z}
	maxs := [3]float64{cc.PositionMax.X, cc.PositionMax.Y, cc.PositionMax.Z}
	for i := range mins {
		if !(mins[i] < maxs[i]) {
			return fmt.Errorf("config: compression position axis %d: min %v >= max %v", i, mins[i], maxs[i])
		}
	}
	if c.Batching.ReliableThreshold <= 0 || c.Batching.UnreliableThreshold <= 0 {
		return fmt.Errorf("config: batching thresholds must be > 0")
	}
	if c.Batching.MaxMessageSize < c.Batching.ReliableThreshold || c.Batching.MaxMessageSize < c.Batching.UnreliableThreshold {
		return fmt.Errorf("config: batching.max_message_size %d below a threshold", c.Batching.MaxMessageSize)
	}
	if c.Replication.SendInterval < 0 || c.Replication.TransformSyncInterval < 0 || c.Interest.UpdateInterval < 0 {
		return fmt.Errorf("config: intervals must be >= 0")
	}
	if math.IsNaN(c.Interest.VisibilityRadius) || c.Interest.VisibilityRadius <= 0 {
		return fmt.Errorf("config: interest.visibility_radius must be > 0")
	}
	switch c.Interest.Strategy {
	case "", "brute_force", "spatial_hash", "always_visible":
	default:
		return fmt.Errorf("config: unknown interest.strategy %q", c.Interest.Strategy)
	}
	if c.Terrain.Amplitude < 0 || c.Terrain.Amplitude > maxs[1] {
		return fmt.Errorf("config: terrain.amplitude %v must be in 0..position_max.y", c.Terrain.Amplitude)
	}
	switch c.Transport.Kind {
	case "", "kcp", "websocket":
	default:
		return fmt.Errorf("config: unknown transport.kind %q", c.Transport.Kind)
	}
	switch c.Transport.Compression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("config: unknown transport.compression %q", c.Transport.Compression)
	}
	switch c.Auth.Mode {
	case "", "none":
	case "jwt":
		if c.Auth.GetJWTSecret() == "" {
			return fmt.Errorf("config: auth.mode=jwt requires jwt_secret or NETSYNC_JWT_SECRET")
		}
	default:
		return fmt.Errorf("config: unknown auth.mode %q", c.Auth.Mode)
	}
	switch c.Storage.Backend {
	case "", "memory", "badger", "redis", "mongo":
	case "mysql":
		if c.Storage.GetMySQLDSN() == "" {
			return fmt.Errorf("config: storage.backend=mysql requires mysql_dsn or NETSYNC_MYSQL_DSN")
		}
	default:
		return fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.AutosaveInterval < 0 || c.Storage.LoadTimeout < 0 {
		return fmt.Errorf("config: storage intervals must be >= 0")
	}
	switch c.Events.Backend {
	case "", "none", "memory":
	case "nats":
		if c.Events.NATSURL == "" || c.Events.Stream == "" {
			return fmt.Errorf("config: events.backend=nats requires nats_url and stream")
		}
	default:
		return fmt.Errorf("config: unknown events.backend %q", c.Events.Backend)
	}
	return nil
}

// Fingerprint отпечаток настроек, влияющих на формат данных. Strict сюда не входит:
// он меняет поведение записи, но не формат.
func (cc CompressionConfig) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	putInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
		_, _ = h.Write(buf[:])
	}
	putFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	putInt(cc.Version)
	putInt(cc.IDBitsSmall)
	putInt(cc.IDBitsMedium)
	putInt(cc.IDBitsLarge)
	putFloat(cc.PositionMin.X)
	putFloat(cc.PositionMin.Y)
	putFloat(cc.PositionMin.Z)
	putFloat(cc.PositionMax.X)
	putFloat(cc.PositionMax.Y)
	putFloat(cc.PositionMax.Z)
	putFloat(cc.PositionPrecision)
	putInt(cc.RotationBits)
	return h.Sum64()
}

// Load читает YAML поверх значений по умолчанию.
// Если path == "", пытается прочитать путь из ENV NETSYNC_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("NETSYNC_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse разбирает YAML из памяти поверх значений по умолчанию
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
