// Package pollagent — клиентская библиотека опроса статуса платежа.
//
// Каждая открытая страница верификации держит ровно один Poller: он с
// фиксированным интервалом опрашивает status endpoint, сравнивает статус
// платежа со страницей, на которой находится вкладчик, и выполняет не более
// одной навигации за время жизни. Gate откладывает навигацию, пока вкладчик
// активно печатает в чувствительное поле.
package pollagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"example.com/payment-verify/pkg/logger"
)

// defaultInterval — период опроса статуса по умолчанию.
// Совпадает с TTL серверного кеша снимка: клиент никогда не увидит
// данные старше одного цикла опроса.
const defaultInterval = 2 * time.Second

// NavigateFunc — побочный эффект навигации на целевую страницу.
// Вызывается не более одного раза за время жизни поллера; после вызова
// цикл опроса останавливается сам. Вызов Stop из callback безопасен,
// но не обязателен.
type NavigateFunc func(route Route)

// Config — настройки поллера.
type Config struct {
	// PaymentID — платёж, статус которого опрашивается.
	PaymentID string

	// PageStatus — статус, которому соответствует текущая страница.
	// Пустая строка означает холдинг-страницу: навигация выполняется
	// на любой статус, требующий действия вкладчика, и на терминальный.
	// Для страницы шага навигация выполняется при любом расхождении.
	PageStatus string

	// Interval — период опроса. Ноль заменяется значением по умолчанию (2 с).
	Interval time.Duration

	// Fetcher — источник снимков статуса (обычно StatusClient).
	Fetcher StatusFetcher

	// Gate — опциональный щит от навигации во время активного ввода.
	Gate *Gate

	// Navigate — выполняет переход на целевую страницу.
	Navigate NavigateFunc
}

// Poller — конечный автомат опроса одной страницы.
// Start и Stop — единственные точки входа; цикл владеет своим тикером
// и держит не больше одного запроса статуса одновременно.
type Poller struct {
	cfg Config

	mu        sync.Mutex
	started   bool
	stopped   bool
	navigated bool
	latest    *Snapshot // Свежайший успешно полученный снимок

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller создаёт поллер. Ошибка — при неполной конфигурации.
func NewPoller(cfg Config) (*Poller, error) {
	if cfg.PaymentID == "" {
		return nil, fmt.Errorf("не указан идентификатор платежа")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("не указан источник снимков статуса")
	}
	if cfg.Navigate == nil {
		return nil, fmt.Errorf("не указана функция навигации")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	return &Poller{
		cfg:  cfg,
		done: make(chan struct{}),
	}, nil
}

// Start запускает цикл опроса. Повторный вызов игнорируется.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop останавливает цикл опроса и гарантирует отсутствие дальнейших
// навигаций. Вызывается при размонтировании страницы; блокирует до
// полной остановки цикла.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	navigated := p.navigated
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// После навигации цикл завершается сам; не ждём его, чтобы Stop
	// можно было безопасно вызвать из navigate callback
	if started && !navigated {
		<-p.done
	}
}

// run — цикл опроса. Первый опрос выполняется сразу, не дожидаясь тика.
func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	log := logger.FromContext(ctx)
	log.Debug().
		Str("payment_id", p.cfg.PaymentID).
		Str("page_status", p.cfg.PageStatus).
		Dur("interval", p.cfg.Interval).
		Msg("Запуск опроса статуса платежа")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	if p.tick(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("payment_id", p.cfg.PaymentID).Msg("Остановка опроса статуса")
			return
		case <-ticker.C:
			if p.tick(ctx) {
				return
			}
		}
	}
}

// tick выполняет один цикл: запрос статуса и решение о навигации.
// Возвращает true, когда цикл должен остановиться.
// Запрос выполняется синхронно — одновременно в полёте не больше одного.
func (p *Poller) tick(ctx context.Context) bool {
	log := logger.FromContext(ctx)

	snapshot, err := p.cfg.Fetcher.FetchStatus(ctx, p.cfg.PaymentID)
	switch {
	case err != nil && ctx.Err() != nil:
		return true
	case err != nil:
		// Временная ошибка: тик пропускается, решение принимается
		// по свежайшему из ранее полученных снимков
		log.Warn().Err(err).Str("payment_id", p.cfg.PaymentID).Msg("Ошибка опроса статуса")
	default:
		p.mu.Lock()
		p.latest = snapshot
		p.mu.Unlock()
	}

	return p.evaluate(ctx)
}

// evaluate принимает решение о навигации по свежайшему снимку.
// Пока Gate закрыт, решение откладывается до следующего тика — опрос
// при этом продолжается, чтобы данные оставались свежими.
func (p *Poller) evaluate(ctx context.Context) bool {
	if p.cfg.Gate != nil && p.cfg.Gate.Closed() {
		return false
	}

	p.mu.Lock()
	if p.stopped || p.navigated {
		p.mu.Unlock()
		return true
	}
	if p.latest == nil || !p.shouldNavigate(p.latest.Status) {
		p.mu.Unlock()
		return false
	}

	// Защёлка навигации выставляется до callback: повторная навигация
	// невозможна, а мьютекс на время callback не удерживается
	p.navigated = true
	snapshot := p.latest
	p.mu.Unlock()

	route := routeForStatus(snapshot)

	log := logger.FromContext(ctx)
	log.Info().
		Str("payment_id", p.cfg.PaymentID).
		Str("status", snapshot.Status).
		Str("route", route.Path).
		Msg("Навигация на страницу шага")

	p.cfg.Navigate(route)
	return true
}

// shouldNavigate возвращает true, если статус платежа не соответствует
// текущей странице.
func (p *Poller) shouldNavigate(status string) bool {
	if p.cfg.PageStatus == "" {
		return isActionRequired(status) || isTerminal(status)
	}
	return status != p.cfg.PageStatus
}
