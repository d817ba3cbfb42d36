package pollagent

import (
	"sync"
	"time"
)

// Паузы ввода по умолчанию: после последнего нажатия клавиши ждём дольше,
// после потери фокуса поле уже не редактируется и пауза короче.
const (
	defaultActiveIdle = 3 * time.Second
	defaultBlurIdle   = 1 * time.Second
)

// Gate — щит от навигации во время активного ввода.
// Пока вкладчик печатает номер карты или код 3-D Secure, поллер продолжает
// опрашивать статус, но откладывает решение о переходе на другую страницу:
// редирект посреди ввода потерял бы неотправленные данные.
//
// MarkActive вызывается на фокус поля и на каждое нажатие клавиши,
// MarkBlurred — на потерю фокуса. Gate считается закрытым, пока не истёк
// дедлайн последнего события.
type Gate struct {
	mu       sync.Mutex
	deadline time.Time

	activeIdle time.Duration // Пауза после нажатия клавиши
	blurIdle   time.Duration // Пауза после потери фокуса
}

// GateConfig — настройки пауз Gate. Нулевые значения заменяются дефолтами.
type GateConfig struct {
	ActiveIdle time.Duration
	BlurIdle   time.Duration
}

// NewGate создаёт Gate с паузами по умолчанию (3 с после нажатия, 1 с после blur).
func NewGate() *Gate {
	return NewGateWithConfig(GateConfig{})
}

// NewGateWithConfig создаёт Gate с заданными паузами.
func NewGateWithConfig(cfg GateConfig) *Gate {
	if cfg.ActiveIdle <= 0 {
		cfg.ActiveIdle = defaultActiveIdle
	}
	if cfg.BlurIdle <= 0 {
		cfg.BlurIdle = defaultBlurIdle
	}

	return &Gate{
		activeIdle: cfg.ActiveIdle,
		blurIdle:   cfg.BlurIdle,
	}
}

// MarkActive продлевает закрытие Gate: вкладчик активно печатает.
func (g *Gate) MarkActive() {
	g.extend(g.activeIdle)
}

// MarkBlurred переводит Gate на короткую паузу: поле потеряло фокус,
// ввод закончился, но даём мгновение на переход между полями.
func (g *Gate) MarkBlurred() {
	g.extend(g.blurIdle)
}

// Closed возвращает true, пока дедлайн последнего события ввода не истёк.
func (g *Gate) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return time.Now().Before(g.deadline)
}

// extend устанавливает новый дедлайн от текущего момента.
// Blur после активного ввода сокращает оставшуюся паузу: ввод завершён.
func (g *Gate) extend(idle time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.deadline = time.Now().Add(idle)
}
