package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/netsync/internal/assets"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/logging"
	"github.com/annel0/netsync/internal/replication"
)

// PersisterOptions настройки сохранения профилей
type PersisterOptions struct {
	// LoadTimeout ограничивает Restore; по умолчанию 200ms
	LoadTimeout time.Duration
	// AutosaveInterval 0: без периодического сохранения
	AutosaveInterval time.Duration
	// QueueSize ёмкость очереди записи; по умолчанию 256
	QueueSize int
}

// PersisterStats счётчики записи
type PersisterStats struct {
	Saved   int64
	Failed  int64
	Dropped int64
}

// Persister сохраняет профили игроков сервера: при деспавне сущности игрока,
// периодически и при остановке. Хуки сервера работают в потоке тика и только
// ставят профили в очередь; запись идёт в отдельной горутине.
type Persister struct {
	store  ProfileStore
	server *replication.Server
	opts   PersisterOptions
	logger *logging.Logger

	lastAutosave time.Time

	queue     chan []Profile
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool

	saved, failed, dropped atomic.Int64
}

// NewPersister подписывается на хуки srv и запускает писателя
func NewPersister(store ProfileStore, srv *replication.Server, opts PersisterOptions) *Persister {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 200 * time.Millisecond
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	p := &Persister{
		store:  store,
		server: srv,
		opts:   opts,
		logger: logging.GetStorageLogger(),
		queue:  make(chan []Profile, opts.QueueSize),
	}
	srv.OnDespawned.Add(p.onDespawned)
	if opts.AutosaveInterval > 0 {
		srv.OnTick.Add(p.onTick)
	}
	p.wg.Add(1)
	go p.writer()
	return p
}

// Restore читает профиль для входящего игрока. Вызывается из потока тика,
// поэтому ограничен LoadTimeout; ошибка хранилища считается первым входом.
func (p *Persister) Restore(username string) (Profile, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.LoadTimeout)
	defer cancel()
	prof, found, err := p.store.Load(ctx, username)
	if err != nil {
		p.logger.Warn("load profile %s: %v", username, err)
		return Profile{}, false
	}
	return prof, found
}

// SaveAll ставит в очередь профили всех игроков в реестре. Только из потока тика
// или после остановки цикла сервера.
func (p *Persister) SaveAll(now time.Time) int {
	var batch []Profile
	for _, e := range p.server.Registry().All() {
		if prof, ok := ProfileOf(e, now); ok {
			batch = append(batch, prof)
		}
	}
	p.enqueue(batch)
	return len(batch)
}

// Close дожидается записи очереди и закрывает хранилище
func (p *Persister) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.queue)
		p.wg.Wait()
		err = p.store.Close()
	})
	return err
}

func (p *Persister) Stats() PersisterStats {
	return PersisterStats{Saved: p.saved.Load(), Failed: p.failed.Load(), Dropped: p.dropped.Load()}
}

// ProfileOf собирает профиль из сущности игрока; false для прочих сущностей
func ProfileOf(e *entity.Entity, now time.Time) (Profile, bool) {
	if e.AssetID != assets.Player {
		return Profile{}, false
	}
	st, ok := e.State.(*assets.PlayerState)
	if !ok || st.Name == "" {
		return Profile{}, false
	}
	return Profile{
		Username: st.Name,
		Position: e.Position,
		Rotation: e.Rotation,
		Health:   st.Health,
		Score:    st.Score,
		SavedAt:  now,
	}, true
}

func (p *Persister) onDespawned(e *entity.Entity) {
	if prof, ok := ProfileOf(e, p.server.World().Now()); ok {
		p.enqueue([]Profile{prof})
	}
}

func (p *Persister) onTick(now time.Time) {
	if p.lastAutosave.IsZero() {
		p.lastAutosave = now
		return
	}
	if now.Sub(p.lastAutosave) < p.opts.AutosaveInterval {
		return
	}
	p.lastAutosave = now
	if n := p.SaveAll(now); n > 0 {
		p.logger.Debug("autosave queued %d profiles", n)
	}
}

func (p *Persister) enqueue(batch []Profile) {
	if len(batch) == 0 {
		return
	}
	if p.closed.Load() {
		p.dropped.Add(int64(len(batch)))
		return
	}
	select {
	case p.queue <- batch:
	default:
		p.dropped.Add(int64(len(batch)))
		p.logger.Warn("profile queue full, dropped %d profiles", len(batch))
	}
}

func (p *Persister) writer() {
	defer p.wg.Done()
	for batch := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		if len(batch) == 1 {
			err = p.store.Save(ctx, batch[0])
		} else {
			err = p.store.BatchSave(ctx, batch)
		}
		cancel()
		if err != nil {
			p.failed.Add(int64(len(batch)))
			p.logger.Error("save %d profiles: %v", len(batch), err)
			continue
		}
		p.saved.Add(int64(len(batch)))
	}
}
